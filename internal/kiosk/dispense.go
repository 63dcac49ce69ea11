package kiosk

import (
	"context"
	"fmt"
	"math"

	"github.com/Proton-105/pour-kiosk/internal/poller"
	"github.com/Proton-105/pour-kiosk/internal/recovery"
	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/store"
	"github.com/Proton-105/pour-kiosk/pkg/logger"
	"github.com/Proton-105/pour-kiosk/pkg/metrics"
)

// outcome is how a paid pour ended.
type outcome struct {
	status       string
	servedML     float64
	authorizedML float64
	err          string
	messageKey   string
}

func (o outcome) completed() bool {
	return o.status == remote.ConsumptionOK
}

func resultOutcome(r *remote.DispenseResult, authorizedML float64) outcome {
	if r.VolumeAuthorizedML > 0 {
		authorizedML = r.VolumeAuthorizedML
	}

	if r.Completed() {
		return outcome{status: remote.ConsumptionOK, servedML: r.VolumeDispensedML, authorizedML: authorizedML}
	}

	status := remote.ConsumptionFailed
	if r.VolumeDispensedML > 0 {
		status = remote.ConsumptionPartial
	}
	reason := r.ErrorMessage
	if reason == "" {
		reason = r.Status
	}

	return outcome{
		status:       status,
		servedML:     r.VolumeDispensedML,
		authorizedML: authorizedML,
		err:          reason,
		messageKey:   "errors.dispensing",
	}
}

// HandlePollerEvent reacts to a status event. The poller has already merged the
// status into the session, so only the transition is decided here.
func (c *Controller) HandlePollerEvent(ev poller.Event) {
	c.mu.Lock()
	p := c.active
	if p != nil && ev.Status != nil {
		p.servedML = ev.Status.ServedML
		if ev.Status.AuthorizedML > 0 {
			p.authorizedML = ev.Status.AuthorizedML
		}
	}
	var o outcome
	switch {
	case ev.Err != nil && ev.GaveUp:
		o = c.failureLocked(p, ev.Err.Error(), "errors.remote")
	case ev.Status != nil && ev.Status.Completed():
		o = outcome{status: remote.ConsumptionOK, servedML: ev.Status.ServedML, authorizedML: ev.Status.AuthorizedML}
	case ev.Status != nil && ev.Status.Failed():
		reason := ev.Status.Error
		if reason == "" {
			reason = ev.Status.Status
		}
		o = c.failureLocked(p, reason, "errors.dispensing")
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx := c.base
	if p != nil {
		ctx = logger.WithAttemptID(ctx, p.attemptID)
	}

	if p != nil && !o.completed() {
		c.log.Error("dispense failed", "status", o.status, "ml_served", o.servedML, "error", o.err)
	}

	if p == nil {
		if !c.transitionFor(ctx, state.InState(state.StateDispensing), o) {
			c.log.Info("late dispense event dropped", "status", o.status, "state", string(c.session.State()))
			return
		}
		c.log.Warn("dispense ended without an active purchase", "status", o.status)
		return
	}

	c.settle(ctx, p, o, state.InState(state.StateDispensing))
}

func (c *Controller) failureLocked(p *purchase, reason, messageKey string) outcome {
	var o outcome
	if p != nil {
		o = p.failure(reason)
	} else {
		o = outcome{status: remote.ConsumptionFailed, err: reason}
	}
	o.messageKey = messageKey
	return o
}

// settle records the pour once per sale, moves the session to its end state when
// from accepts it and reports the consumption in the background. A nil from leaves
// the session alone.
func (c *Controller) settle(ctx context.Context, p *purchase, o outcome, from state.Guard) {
	c.mu.Lock()
	if p.settled {
		c.mu.Unlock()
		return
	}
	p.settled = true
	if c.active == p {
		c.active = nil
	}

	finishedAt := c.clock.Now().UTC()
	started := p.startedAt
	if started.IsZero() {
		started = finishedAt
	}
	tx := store.Transaction{
		Token:        p.token,
		MLServed:     o.servedML,
		MLAuthorized: o.authorizedML,
		SaleID:       p.saleID,
		Beverage:     store.BeverageRef{ID: p.beverage.ID, Name: p.beverage.Name},
		StartedAt:    started.UTC(),
		FinishedAt:   finishedAt,
		Status:       o.status,
	}
	if !o.completed() {
		tx.DispenseError = o.err
	}
	c.mu.Unlock()

	if err := c.store.SaveTransaction(ctx, tx); err != nil {
		c.log.Warn("pending transaction not persisted", "sale_id", tx.SaleID, "error", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.report(ctx, p, tx)
	}()

	if from != nil && !c.transitionFor(ctx, from, o) {
		c.log.Warn("session moved on before the pour settled", "sale_id", p.saleID, "state", string(c.session.State()))
	}
}

// transitionFor ends the pour on screen when from still accepts the session.
func (c *Controller) transitionFor(ctx context.Context, from state.Guard, o outcome) bool {
	var (
		moved bool
		err   error
	)
	if o.completed() {
		moved, err = c.session.SetStateIf(ctx, from, state.StateFinished, state.Data{
			state.KeyMLServed:     o.servedML,
			state.KeyMLAuthorized: o.authorizedML,
			state.KeyPercentage:   remote.Percentage(o.servedML, o.authorizedML),
			state.KeyStatus:       o.status,
		})
	} else {
		messageKey := o.messageKey
		if messageKey == "" {
			messageKey = "errors.dispensing"
		}
		moved, err = c.session.SetStateIf(ctx, from, state.StateIdle, state.Data{
			state.KeyError:   o.err,
			state.KeyMessage: messageKey,
		})
	}
	if err != nil {
		c.log.Error("end of dispense transition failed", "error", err)
	}
	return moved
}

// report delivers the consumption. A failed report leaves the transaction unsynced
// for the next startup and alerts the operator.
func (c *Controller) report(ctx context.Context, p *purchase, tx store.Transaction) {
	req := remote.NewConsumptionReport(c.settings.MachineID, tx)

	err := c.reportPolicy.Do(ctx, func() error {
		_, err := c.remote.ReportConsumption(ctx, req)
		return err
	})
	if err == nil {
		metrics.RecordConsumptionReport("ok")
		c.log.Info("consumption reported",
			"sale_id", tx.SaleID,
			"ml_served", req.MLServed,
			"status", req.Status,
		)
		c.clearTransaction(ctx, tx.SaleID)
		c.clearToken(ctx, tx.Token)
		return
	}

	metrics.RecordConsumptionReport("failed")
	c.handle(ctx, err)

	tx.Error = err.Error()
	if saveErr := c.store.SaveTransaction(ctx, tx); saveErr != nil {
		c.log.Warn("report failure not persisted", "sale_id", tx.SaleID, "error", saveErr)
	}

	c.notify(ctx, fmt.Sprintf("Consumption report failed for %s: %v. It will be retried on the next start.", p, err))
}

// clearTransaction removes the pending transaction when it still belongs to saleID.
func (c *Controller) clearTransaction(ctx context.Context, saleID string) {
	tx, err := c.store.GetLastTransaction(ctx)
	if err != nil || tx == nil || tx.SaleID != saleID {
		return
	}
	if err := c.store.RemoveTransaction(ctx); err != nil {
		c.log.Warn("pending transaction removal failed", "sale_id", saleID, "error", err)
	}
}

func (c *Controller) notify(ctx context.Context, text string) {
	if c.alerts == nil {
		return
	}
	if err := c.alerts.Notify(ctx, text); err != nil {
		c.log.Warn("operator alert failed", "error", err)
	}
}

// Resume re-enters DISPENSING for a pour the gateway reported as still running at
// startup, so polling picks it up where the previous process left it.
func (c *Controller) Resume(ctx context.Context, r *recovery.Resume) error {
	if r == nil {
		return nil
	}

	data := r.Data.Clone()
	beverage, _ := beverageFrom(data)
	volume := volumeFrom(data)
	if volume <= 0 {
		volume = int(math.Round(r.Status.AuthorizedML))
	}
	authorized := r.Status.AuthorizedML
	if authorized <= 0 {
		authorized = float64(volume)
	}
	attemptID := data.String(state.KeyAttemptID)
	if attemptID == "" {
		attemptID = logger.NewAttemptID()
	}

	p := &purchase{
		attemptID:    attemptID,
		beverage:     beverage,
		volumeML:     volume,
		saleID:       r.SaleID,
		token:        r.Token,
		expiresAt:    r.ExpiresAt,
		servedML:     r.Status.ServedML,
		authorizedML: authorized,
	}

	c.mu.Lock()
	c.active = p
	c.mu.Unlock()

	c.log.Info("resuming dispense", "attempt_id", attemptID, "sale_id", r.SaleID, "ml_served", r.Status.ServedML)

	data[state.KeyAttemptID] = attemptID
	data[state.KeySaleID] = r.SaleID
	data[state.KeyToken] = r.Token
	data[state.KeyMLServed] = r.Status.ServedML
	data[state.KeyMLAuthorized] = authorized
	return c.session.SetState(ctx, state.StateDispensing, data)
}
