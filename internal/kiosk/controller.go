// Package kiosk drives the purchase flow: it turns customer input, payment outcomes
// and gateway status events into session transitions, and makes sure every paid
// pour ends in a consumption report or a record that recovery will retry.
package kiosk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/payment"
	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/store"
	"github.com/Proton-105/pour-kiosk/internal/token"
	"github.com/Proton-105/pour-kiosk/pkg/logger"
	"github.com/Proton-105/pour-kiosk/pkg/metrics"
)

// Session data keys owned by the controller.
const (
	KeyQRCode        = "qrCode"
	KeyPaymentStatus = "paymentStatus"
)

// Session is the state machine surface the controller drives.
type Session interface {
	Start(ctx context.Context) error
	State() state.State
	Data() state.Data
	SetState(ctx context.Context, target state.State, patch state.Data) error
	SetStateIf(ctx context.Context, guard state.Guard, target state.State, patch state.Data) (bool, error)
	UpdateDataIn(ctx context.Context, expected state.State, patch state.Data) bool
	Subscribe(observer state.Observer) func()
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Resetter is implemented by the simulated backend, which forgets its pour when the
// kiosk returns to idle.
type Resetter interface {
	Reset()
}

// Settings are the kiosk parameters the controller needs.
type Settings struct {
	MachineID string
	Volumes   []int
	FlowRate  float64
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Session  Session
	Remote   remote.Client
	Payments payment.Provider
	Tokens   *token.Generator
	Store    *store.Store
	Alerts   Notifier
	Errors   *apperrors.Handler
	Log      *slog.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock sets the time source for transaction timestamps.
func WithClock(clock state.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithReportPolicy sets the retry policy of the in-session consumption report.
func WithReportPolicy(p apperrors.RetryPolicy) Option {
	return func(c *Controller) {
		c.reportPolicy = p
	}
}

// WithSimulator resets r every time the session returns to idle.
func WithSimulator(r Resetter) Option {
	return func(c *Controller) {
		c.simulator = r
	}
}

// Controller is the kiosk's handler layer.
type Controller struct {
	settings     Settings
	session      Session
	remote       remote.Client
	payments     payment.Provider
	tokens       *token.Generator
	store        *store.Store
	alerts       Notifier
	errors       *apperrors.Handler
	log          *slog.Logger
	clock        state.Clock
	reportPolicy apperrors.RetryPolicy
	simulator    Resetter

	base        context.Context
	cancelBase  context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	mu            sync.Mutex
	catalog       remote.Catalog
	cancelAttempt context.CancelFunc
	active        *purchase
}

// New creates a controller and subscribes it to session transitions.
func New(settings Settings, deps Deps, opts ...Option) *Controller {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if len(settings.Volumes) == 0 {
		settings.Volumes = DefaultVolumes
	}
	if settings.FlowRate <= 0 {
		settings.FlowRate = DefaultFlowRate
	}

	errHandler := deps.Errors
	if errHandler == nil {
		errHandler = apperrors.NewHandler(log, false)
	}

	base, cancel := context.WithCancel(context.Background())

	c := &Controller{
		settings:     settings,
		session:      deps.Session,
		remote:       deps.Remote,
		payments:     deps.Payments,
		tokens:       deps.Tokens,
		store:        deps.Store,
		alerts:       deps.Alerts,
		errors:       errHandler,
		log:          log.With("component", "kiosk"),
		clock:        state.SystemClock,
		reportPolicy: apperrors.DefaultRetryPolicy,
		base:         base,
		cancelBase:   cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.unsubscribe = c.session.Subscribe(c.onStateChange)

	return c
}

// Boot loads the catalog and starts the session. A catalog failure is fatal: the
// session stays unstarted and the caller switches to the diagnostic mode.
func (c *Controller) Boot(ctx context.Context) error {
	if _, err := c.LoadCatalog(ctx); err != nil {
		return err
	}

	return c.session.Start(ctx)
}

// LoadCatalog fetches the beverage list and keeps it for selection.
func (c *Controller) LoadCatalog(ctx context.Context) (*remote.Catalog, error) {
	catalog, err := c.remote.GetBeverages(ctx)
	if err != nil {
		c.log.Error("catalog load failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.catalog = *catalog
	c.mu.Unlock()

	c.log.Info("catalog loaded", "beverages", len(catalog.Beverages))
	return catalog, nil
}

// Catalog returns the loaded beverages.
func (c *Controller) Catalog() remote.Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return remote.Catalog{Beverages: append([]remote.Beverage(nil), c.catalog.Beverages...)}
}

// Volumes returns the offered pour sizes.
func (c *Controller) Volumes() []int {
	return append([]int(nil), c.settings.Volumes...)
}

// Reset returns the session to idle.
func (c *Controller) Reset(ctx context.Context) error {
	return c.session.SetState(ctx, state.StateIdle, nil)
}

// SelectBeverage starts a purchase attempt. Alcoholic beverages require an age
// confirmation first.
func (c *Controller) SelectBeverage(ctx context.Context, beverageID string) error {
	if err := c.expect(state.StateIdle); err != nil {
		return err
	}

	c.mu.Lock()
	beverage, ok := c.catalog.Find(beverageID)
	c.mu.Unlock()
	if !ok {
		return apperrors.NewValidationError("unknown beverage " + beverageID)
	}

	attemptID := logger.NewAttemptID()
	next := state.StateSelectVolume
	if beverage.Alcoholic() {
		next = state.StateConfirmAge
	}

	c.log.Info("beverage selected",
		"attempt_id", attemptID,
		"beverage_id", beverage.ID,
		"abv", beverage.ABV,
	)

	return c.session.SetState(ctx, next, state.Data{
		state.KeyAttemptID: attemptID,
		state.KeyBeverage:  beverage,
	})
}

// ConfirmAge answers the age question. A negative answer ends the attempt with a
// hint to pick a non-alcoholic beverage.
func (c *Controller) ConfirmAge(ctx context.Context, confirmed bool) error {
	if err := c.expect(state.StateConfirmAge); err != nil {
		return err
	}

	if !confirmed {
		return c.session.SetState(ctx, state.StateIdle, state.Data{state.KeyMessage: "age.required"})
	}

	return c.session.SetState(ctx, state.StateSelectVolume, nil)
}

// SelectVolume picks one of the configured pour sizes and prices it.
func (c *Controller) SelectVolume(ctx context.Context, volumeML int) error {
	if err := c.expect(state.StateSelectVolume); err != nil {
		return err
	}

	if !validVolume(c.settings.Volumes, volumeML) {
		return apperrors.NewValidationError("volume not offered")
	}

	beverage, ok := beverageFrom(c.session.Data())
	if !ok {
		return apperrors.NewStateError("no beverage selected")
	}

	return c.session.SetState(ctx, state.StateSelectPayment, state.Data{
		state.KeyVolume: volumeML,
		state.KeyTotal:  Total(volumeML, beverage.PricePerML),
	})
}

// Back steps back in the selection flow: from payment selection to volume selection,
// from anywhere else before payment to idle. Pending payments use CancelPayment.
func (c *Controller) Back(ctx context.Context) error {
	switch current := c.session.State(); current {
	case state.StateSelectPayment:
		return c.session.SetState(ctx, state.StateSelectVolume, nil)
	case state.StateAwaitingPayment:
		return c.CancelPayment(ctx)
	case state.StateAuthorized, state.StateDispensing:
		return apperrors.NewStateError("cannot go back from " + string(current))
	default:
		return c.session.SetState(ctx, state.StateIdle, nil)
	}
}

// Close stops background work and waits for it.
func (c *Controller) Close() {
	c.cancelBase()
	c.wg.Wait()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Wait blocks until background purchase and report work finishes.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) expect(want state.State) error {
	if current := c.session.State(); current != want {
		return apperrors.NewStateError("operation requires " + string(want) + ", session is " + string(current))
	}
	return nil
}

// stillIn reports whether the session is in want for the given purchase attempt.
func (c *Controller) stillIn(want state.State, attemptID string) bool {
	return c.session.State() == want && c.session.Data().String(state.KeyAttemptID) == attemptID
}

func (c *Controller) onStateChange(change state.Change) {
	if change.To == state.StateDispensing {
		c.mu.Lock()
		if c.active != nil && c.active.startedAt.IsZero() {
			c.active.startedAt = startedAt(change.Data, c.clock.Now())
		}
		c.mu.Unlock()
	}

	if change.To != state.StateIdle {
		return
	}

	switch change.From {
	case state.StateAwaitingPayment:
		c.abandonPayment()
	case state.StateDispensing:
		c.mu.Lock()
		p := c.active
		var o outcome
		if p != nil {
			o = p.failure("dispense timed out")
		}
		c.mu.Unlock()
		if p != nil {
			c.log.Warn("left dispensing without a terminal status", "sale_id", p.saleID)
			c.settle(logger.WithAttemptID(c.base, p.attemptID), p, o, nil)
		}
	}

	if c.simulator != nil {
		c.simulator.Reset()
	}
}

// abandonPayment stops the purchase goroutine and tells the provider, without
// waiting for the provider.
func (c *Controller) abandonPayment() {
	c.mu.Lock()
	cancel := c.cancelAttempt
	c.cancelAttempt = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.payments.Cancel(c.base); err != nil {
			c.log.Warn("payment cancel failed", "error", err)
		}
	}()
}

// handle logs err through the error handler and returns the message key to show.
func (c *Controller) handle(ctx context.Context, err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr != nil {
		metrics.RecordError(appErr.Code, string(appErr.Severity))
	}

	key, _ := c.errors.Handle(ctx, err)
	if key == "" {
		key = "errors.generic"
	}
	return key
}

func startedAt(data state.Data, fallback time.Time) time.Time {
	if ms, ok := data.Float(state.KeyDispensingStartedAt); ok && ms > 0 {
		return time.UnixMilli(int64(ms))
	}
	return fallback
}
