// Package poller queries the dispensing gateway on a fixed cadence while a pour is in
// progress and turns the answers into session data and events.
//
// The poller never transitions the session: terminal statuses and the failure threshold
// are reported as events and the subscriber decides what state comes next.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/pkg/metrics"
)

const (
	// DefaultMaxFailures is the number of consecutive failed queries after which polling stops.
	DefaultMaxFailures = 3
	// DefaultInterval is used when Start receives a non-positive interval.
	DefaultInterval = 300 * time.Millisecond

	defaultRequestTimeout = 5 * time.Second
)

// Session is the part of the state machine the poller reads and writes.
type Session interface {
	State() state.State
	Data() state.Data
	UpdateDataIn(ctx context.Context, expected state.State, patch state.Data) bool
}

// StatusFetcher queries the gateway.
type StatusFetcher interface {
	GetStatus(ctx context.Context) (*remote.DispenseStatus, error)
}

// Event is emitted after every completed query. Status is set on success, Err on failure.
type Event struct {
	Status   *remote.DispenseStatus
	Err      error
	Failures int
	GaveUp   bool
}

// Terminal reports whether the event ends the pour.
func (e Event) Terminal() bool {
	return e.Status != nil && e.Status.Terminal()
}

// Handler consumes poller events. Handlers run on the polling goroutine after the
// session data has been merged, and may call back into the session and the poller.
type Handler func(Event)

// Option customizes a Poller.
type Option func(*Poller)

// WithMaxFailures sets the consecutive failure threshold.
func WithMaxFailures(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxFailures = n
		}
	}
}

// WithRequestTimeout bounds each status query.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

// Poller drives the status query loop. It satisfies state.Poller.
type Poller struct {
	fetcher        StatusFetcher
	session        Session
	log            *slog.Logger
	maxFailures    int
	requestTimeout time.Duration

	mu       sync.Mutex
	active   bool
	cancel   context.CancelFunc
	failures int
	handlers []Handler

	inFlight atomic.Bool
}

// New creates an inactive poller.
func New(fetcher StatusFetcher, session Session, log *slog.Logger, opts ...Option) *Poller {
	if log == nil {
		log = slog.Default()
	}

	p := &Poller{
		fetcher:        fetcher,
		session:        session,
		log:            log.With("component", "poller"),
		maxFailures:    DefaultMaxFailures,
		requestTimeout: defaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Subscribe registers h for every subsequent event.
func (p *Poller) Subscribe(h Handler) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Start begins polling: one query right away, then one per interval. It is a no-op
// while already active and never blocks.
func (p *Poller) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, ok := p.activate()
	if !ok {
		p.log.Debug("poller already active")
		return
	}

	p.log.Info("polling started", "interval", interval)
	go p.run(ctx, interval)
}

// Stop cancels polling. Redundant calls are ignored.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}

	p.active = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	p.log.Info("polling stopped")
}

// Active reports whether the poller is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) activate() (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.active = true
	p.cancel = cancel
	p.failures = 0

	return ctx, true
}

func (p *Poller) run(ctx context.Context, interval time.Duration) {
	p.FetchStatus(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.FetchStatus(ctx)
		}
	}
}

// FetchStatus runs one query. It is skipped while another query is in flight and stops
// the poller when the session is no longer dispensing.
func (p *Poller) FetchStatus(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.log.Debug("status query still in flight, skipping")
		return
	}
	defer p.inFlight.Store(false)

	if ctx.Err() != nil {
		return
	}

	if current := p.session.State(); current != state.StateDispensing {
		p.log.Debug("session left dispensing, stopping poller", "state", string(current))
		p.Stop()
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	status, err := p.fetcher.GetStatus(queryCtx)
	cancel()

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		p.fail(err)
		return
	}

	p.succeed(ctx, status)
}

func (p *Poller) succeed(ctx context.Context, status *remote.DispenseStatus) {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()

	authorized := status.AuthorizedML
	percentage := status.Percentage
	if authorized <= 0 {
		if volume, ok := p.session.Data().Float(state.KeyVolume); ok {
			authorized = volume
			percentage = remote.Percentage(status.ServedML, authorized)
		}
	}

	patch := state.Data{
		state.KeyMLServed:     status.ServedML,
		state.KeyMLAuthorized: authorized,
		state.KeyPercentage:   percentage,
		state.KeyStatus:       status.Status,
	}
	if !p.session.UpdateDataIn(ctx, state.StateDispensing, patch) {
		p.Stop()
		return
	}

	if status.Terminal() {
		p.log.Info("dispense reached terminal status",
			"status", status.Status,
			"ml_served", status.ServedML,
			"ml_authorized", authorized,
		)
		p.Stop()
	}

	normalized := *status
	normalized.AuthorizedML = authorized
	normalized.Percentage = percentage
	p.emit(Event{Status: &normalized})
}

func (p *Poller) fail(err error) {
	metrics.RecordPollerFailure()

	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	gaveUp := failures >= p.maxFailures
	p.log.Warn("status query failed", "failures", failures, "gave_up", gaveUp, "error", err)
	if gaveUp {
		p.Stop()
	}

	p.emit(Event{Err: err, Failures: failures, GaveUp: gaveUp})
}

func (p *Poller) emit(event Event) {
	p.mu.Lock()
	handlers := append([]Handler(nil), p.handlers...)
	p.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

var _ state.Poller = (*Poller)(nil)
