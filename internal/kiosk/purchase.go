package kiosk

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/payment"
	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/pkg/logger"
)

// purchase is a paid attempt that owns a token and, eventually, a consumption report.
type purchase struct {
	attemptID    string
	beverage     remote.Beverage
	volumeML     int
	saleID       string
	token        string
	expiresAt    time.Time
	startedAt    time.Time
	servedML     float64
	authorizedML float64
	settled      bool
}

// SelectPayment picks the payment method and starts collecting the payment in the
// background. The rest of the purchase runs asynchronously; the session reports
// progress through its transitions.
func (c *Controller) SelectPayment(ctx context.Context, name string) error {
	if err := c.expect(state.StateSelectPayment); err != nil {
		return err
	}

	method, ok := payment.ParseMethod(name)
	if !ok {
		return apperrors.NewValidationError("unsupported payment method " + name)
	}

	data := c.session.Data()
	beverage, ok := beverageFrom(data)
	if !ok {
		return apperrors.NewStateError("no beverage selected")
	}
	volume := volumeFrom(data)
	if volume <= 0 {
		return apperrors.NewStateError("no volume selected")
	}

	attemptID := data.String(state.KeyAttemptID)
	if attemptID == "" {
		attemptID = logger.NewAttemptID()
	}
	total := Total(volume, beverage.PricePerML)

	attemptCtx, cancel := context.WithCancel(logger.WithAttemptID(c.base, attemptID))

	c.mu.Lock()
	if c.cancelAttempt != nil {
		c.cancelAttempt()
	}
	c.cancelAttempt = cancel
	c.mu.Unlock()

	if err := c.session.SetState(ctx, state.StateAwaitingPayment, state.Data{
		state.KeyAttemptID:     attemptID,
		state.KeyPaymentMethod: string(method),
		state.KeyTotal:         total,
	}); err != nil {
		cancel()
		return err
	}

	p := &purchase{attemptID: attemptID, beverage: beverage, volumeML: volume}
	req := payment.Request{
		Amount:     total,
		Method:     method,
		VolumeML:   volume,
		BeverageID: beverage.ID,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.runPurchase(attemptCtx, p, req)
	}()

	return nil
}

// CancelPayment abandons the pending payment and returns to idle right away.
func (c *Controller) CancelPayment(ctx context.Context) error {
	if err := c.expect(state.StateAwaitingPayment); err != nil {
		return err
	}

	c.log.Info("payment cancelled by customer", "attempt_id", c.session.Data().String(state.KeyAttemptID))
	return c.session.SetState(ctx, state.StateIdle, state.Data{state.KeyMessage: "payment.cancelled"})
}

// runPurchase takes an approved payment to an authorized pour. The order is fixed:
// payment, sale registration, token, gateway authorization.
func (c *Controller) runPurchase(ctx context.Context, p *purchase, req payment.Request) {
	log := c.log.With("attempt_id", p.attemptID)

	result, err := c.payments.Start(ctx, req, func(u payment.Update) {
		patch := state.Data{KeyPaymentStatus: u.Status, state.KeyTransactionID: u.TransactionID}
		if u.QRCode != "" {
			patch[KeyQRCode] = u.QRCode
		}
		if !u.ExpiresAt.IsZero() {
			patch[state.KeyExpiresAt] = u.ExpiresAt.UnixMilli()
		}
		c.session.UpdateDataIn(ctx, state.StateAwaitingPayment, patch)
	})
	if !c.stillIn(state.StateAwaitingPayment, p.attemptID) {
		log.Info("purchase abandoned while collecting payment")
		return
	}
	if err != nil {
		c.deny(ctx, p, c.handle(ctx, err), err.Error())
		return
	}
	if !result.Approved() {
		key := "payment.denied"
		if result.Status == payment.StatusError {
			key = "payment.processing_error"
		}
		log.Info("payment not approved", "status", string(result.Status), "reason", result.Reason)
		c.deny(ctx, p, key, result.Reason)
		return
	}

	log.Info("payment approved", "transaction_id", result.TransactionID, "method", string(req.Method))

	// past this point the customer has paid: an abandoned session must not cut the
	// sale, token or authorization calls short
	ctx = logger.WithAttemptID(c.base, p.attemptID)

	p.saleID = c.registerSale(ctx, p, req, result)
	if !c.stillIn(state.StateAwaitingPayment, p.attemptID) {
		log.Warn("purchase abandoned after payment approval", "sale_id", p.saleID)
		return
	}

	tok, err := c.tokens.Generate(p.saleID, p.beverage.ID, p.volumeML)
	if err != nil {
		c.handle(ctx, err)
		c.deny(ctx, p, "errors.processing", err.Error())
		return
	}
	p.token = tok.Value
	p.expiresAt = tok.ExpiresAt
	p.authorizedML = float64(p.volumeML)

	if err := c.store.SaveToken(ctx, tok.Value, tok.ExpiresAt); err != nil {
		log.Warn("token not persisted, recovery will not see this pour", "error", err)
	}

	c.session.UpdateDataIn(ctx, state.StateAwaitingPayment, state.Data{
		state.KeyTransactionID: result.TransactionID,
		state.KeySaleID:        p.saleID,
		state.KeyToken:         tok.Value,
		state.KeyExpiresAt:     tok.ExpiresAt.UnixMilli(),
	})

	c.mu.Lock()
	c.active = p
	c.mu.Unlock()

	auth, err := c.remote.Authorize(ctx, tok.Value)
	if err != nil {
		c.mu.Lock()
		if c.active == p {
			c.active = nil
		}
		c.mu.Unlock()
		c.clearToken(ctx, tok.Value)
		c.deny(ctx, p, c.handle(ctx, err), err.Error())
		return
	}

	patch := state.Data{
		state.KeySaleID:           p.saleID,
		state.KeyToken:            tok.Value,
		state.KeyExpiresAt:        tok.ExpiresAt.UnixMilli(),
		state.KeyMLAuthorized:     p.authorizedML,
		state.KeyEstimatedSeconds: EstimateDispenseTime(p.volumeML, c.settings.FlowRate),
	}

	if auth.Result != nil && auth.Result.Terminal() {
		// the gateway ran the pour synchronously: the customer has been served, so the
		// consumption is recorded even when the session moved on meanwhile
		owned, err := c.session.SetStateIf(ctx, state.ForAttempt(state.StateAwaitingPayment, p.attemptID), state.StateAuthorized, patch)
		if err != nil {
			log.Error("authorized transition failed", "error", err)
		}
		var from state.Guard
		if owned {
			from = state.InState(state.StateAuthorized, state.StateDispensing)
		}
		c.settle(ctx, p, resultOutcome(auth.Result, p.authorizedML), from)
		return
	}

	owned, err := c.session.SetStateIf(ctx, state.ForAttempt(state.StateAwaitingPayment, p.attemptID), state.StateAuthorized, patch)
	if err != nil {
		log.Error("authorized transition failed", "error", err)
	}
	if !owned {
		log.Warn("session moved on during authorization", "sale_id", p.saleID, "state", string(c.session.State()))
		c.settle(ctx, p, p.failure("session expired before dispensing"), nil)
		return
	}

	log.Info("dispense authorized", "sale_id", p.saleID, "volume_ml", p.volumeML)
}

// registerSale records the approved payment. When the backend is unreachable the
// payment's own transaction id stands in as the sale id.
func (c *Controller) registerSale(ctx context.Context, p *purchase, req payment.Request, result *payment.Result) string {
	sale, err := c.remote.RegisterSale(ctx, remote.SaleRequest{
		MachineID:             c.settings.MachineID,
		BeverageID:            p.beverage.ID,
		VolumeML:              p.volumeML,
		TotalValue:            req.Amount,
		PaymentMethod:         string(req.Method),
		PaymentTransactionID:  result.TransactionID,
		PaymentNSU:            result.NSU,
		PaymentAuthCode:       result.AuthCode,
		PaymentCardBrand:      result.CardBrand,
		PaymentCardLastDigits: result.CardLastDigits,
		CreatedAt:             c.clock.Now().UTC(),
	})
	if err != nil {
		c.log.Warn("sale registration failed, using payment transaction id",
			"attempt_id", p.attemptID,
			"transaction_id", result.TransactionID,
			"error", err,
		)
		return result.TransactionID
	}

	return sale.SaleID
}

// deny shows the denial screen when the attempt still owns the session.
func (c *Controller) deny(ctx context.Context, p *purchase, messageKey, reason string) {
	if _, err := c.session.SetStateIf(ctx, state.ForAttempt(state.StateAwaitingPayment, p.attemptID), state.StatePaymentDenied, state.Data{
		state.KeyMessage: messageKey,
		state.KeyReason:  reason,
	}); err != nil {
		c.log.Error("payment denied transition failed", "error", err)
	}
}

// clearToken removes the persisted token when it is still the one given.
func (c *Controller) clearToken(ctx context.Context, value string) {
	record, err := c.store.GetToken(ctx)
	if err != nil || record == nil || record.Token != value {
		return
	}
	if err := c.store.RemoveToken(ctx); err != nil {
		c.log.Warn("token removal failed", "error", err)
	}
}

func (p *purchase) failure(reason string) outcome {
	status := remote.ConsumptionFailed
	if p.servedML > 0 {
		status = remote.ConsumptionPartial
	}
	return outcome{
		status:       status,
		servedML:     p.servedML,
		authorizedML: p.authorizedML,
		err:          reason,
	}
}

func (p *purchase) String() string {
	return fmt.Sprintf("sale %s (%d ml of %s)", p.saleID, p.volumeML, p.beverage.Name)
}
