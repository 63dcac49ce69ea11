// Package recovery reconciles what the previous process left in the store before the
// kiosk accepts customers again.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/store"
	"github.com/Proton-105/pour-kiosk/internal/token"
	"github.com/Proton-105/pour-kiosk/pkg/metrics"
)

// Reporter delivers consumption reports.
type Reporter interface {
	ReportConsumption(ctx context.Context, report remote.ConsumptionReport) (*remote.ConsumptionAck, error)
}

// Gateway answers dispense status queries.
type Gateway interface {
	GetStatus(ctx context.Context) (*remote.DispenseStatus, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Resume describes a pour the gateway still reports as running.
type Resume struct {
	SaleID    string
	Token     string
	ExpiresAt time.Time
	// Data is the last persisted session data, empty when none was stored.
	Data   state.Data
	Status remote.DispenseStatus
}

// Result summarizes a recovery run.
type Result struct {
	// Reported is set when a pending consumption was delivered.
	Reported bool
	// Pending is set when an unsynced consumption is still stored.
	Pending bool
	Resume  *Resume
}

// Config tunes a Coordinator.
type Config struct {
	MachineID string
	// ResumeDispensing queries the gateway once when an unexpired token survived the
	// restart, and asks for the pour to be resumed when it is still running.
	ResumeDispensing bool
}

// Coordinator runs the startup reconciliation.
type Coordinator struct {
	cfg      Config
	store    *store.Store
	reporter Reporter
	gateway  Gateway
	alerts   Notifier
	log      *slog.Logger
}

// New creates a Coordinator. gateway and alerts may be nil.
func New(cfg Config, st *store.Store, reporter Reporter, gateway Gateway, alerts Notifier, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}

	return &Coordinator{
		cfg:      cfg,
		store:    st,
		reporter: reporter,
		gateway:  gateway,
		alerts:   alerts,
		log:      log.With("component", "recovery"),
	}
}

// Run re-reports an unsynced consumption once, then inspects a surviving token.
// Persistence failures are logged and treated as "nothing to recover".
func (c *Coordinator) Run(ctx context.Context) Result {
	var result Result

	reported, pending := c.reportPending(ctx)
	result.Reported = reported
	result.Pending = pending

	result.Resume = c.inspectToken(ctx)

	c.log.Info("recovery finished",
		"reported", result.Reported,
		"pending", result.Pending,
		"resume", result.Resume != nil,
	)

	return result
}

func (c *Coordinator) reportPending(ctx context.Context) (reported, pending bool) {
	tx, err := c.store.GetLastTransaction(ctx)
	if err != nil {
		c.log.Warn("pending transaction unreadable", "error", err)
		return false, false
	}
	if tx == nil {
		return false, false
	}

	if tx.Synced {
		c.log.Debug("dropping synced transaction", "sale_id", tx.SaleID)
		if err := c.store.RemoveTransaction(ctx); err != nil {
			c.log.Warn("synced transaction removal failed", "error", err)
		}
		return false, false
	}

	report := remote.NewConsumptionReport(c.cfg.MachineID, *tx)
	c.log.Info("re-reporting pending consumption",
		"sale_id", tx.SaleID,
		"ml_served", report.MLServed,
		"ml_authorized", report.MLAuthorized,
		"previous_error", tx.Error,
	)

	if _, err := c.reporter.ReportConsumption(ctx, report); err != nil {
		metrics.RecordConsumptionReport("failed")
		c.log.Error("pending consumption report failed, keeping it for the next start", "sale_id", tx.SaleID, "error", err)

		tx.Error = err.Error()
		if saveErr := c.store.SaveTransaction(ctx, *tx); saveErr != nil {
			c.log.Warn("report failure not persisted", "error", saveErr)
		}
		c.notify(ctx, fmt.Sprintf("Pending consumption for sale %s could not be reported at startup: %v", tx.SaleID, err))
		return false, true
	}

	metrics.RecordConsumptionReport("ok")
	if err := c.store.RemoveTransaction(ctx); err != nil {
		c.log.Warn("reported transaction removal failed", "error", err)
	}

	if record, err := c.store.GetToken(ctx); err == nil && record != nil && record.Token == tx.Token {
		if err := c.store.RemoveToken(ctx); err != nil {
			c.log.Warn("reported token removal failed", "error", err)
		}
	}

	c.log.Info("pending consumption reported", "sale_id", tx.SaleID)
	return true, false
}

func (c *Coordinator) inspectToken(ctx context.Context) *Resume {
	record, err := c.store.GetToken(ctx)
	if err != nil {
		c.log.Warn("persisted token unreadable", "error", err)
		return nil
	}
	if record == nil {
		return nil
	}

	payload, err := token.Parse(record.Token)
	if err != nil {
		c.log.Warn("persisted token is malformed, discarding", "error", err)
		if err := c.store.RemoveToken(ctx); err != nil {
			c.log.Warn("token removal failed", "error", err)
		}
		return nil
	}

	c.log.Warn("unexpired token survived the restart",
		"sale_id", payload.SaleID,
		"beverage_id", payload.BeverageID,
		"volume_ml", payload.VolumeML,
		"expires_at", record.ExpiresAt,
	)

	if !c.cfg.ResumeDispensing || c.gateway == nil {
		return nil
	}

	status, err := c.gateway.GetStatus(ctx)
	if err != nil {
		c.log.Warn("gateway status unavailable, not resuming", "error", err)
		return nil
	}
	if !status.Dispensing && status.Status != remote.DispenseDispensing {
		c.log.Info("gateway is not dispensing, nothing to resume", "status", status.Status)
		return nil
	}
	if status.SaleID != "" && status.SaleID != payload.SaleID {
		c.log.Warn("gateway is pouring another sale, not resuming",
			"sale_id", payload.SaleID,
			"gateway_sale_id", status.SaleID,
		)
		return nil
	}

	resume := &Resume{
		SaleID:    payload.SaleID,
		Token:     record.Token,
		ExpiresAt: record.ExpiresAt,
		Data:      state.Data{},
		Status:    *status,
	}
	if snapshot, err := c.store.GetAppState(ctx); err == nil && snapshot != nil {
		resume.Data = snapshot.Data.Clone()
	}
	if _, ok := resume.Data[state.KeyVolume]; !ok {
		resume.Data[state.KeyVolume] = payload.VolumeML
	}

	return resume
}

func (c *Coordinator) notify(ctx context.Context, text string) {
	if c.alerts == nil {
		return
	}
	if err := c.alerts.Notify(ctx, text); err != nil {
		c.log.Warn("operator alert failed", "error", err)
	}
}
