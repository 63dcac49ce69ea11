package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/store"
)

var (
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_state_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"from", "to"},
	)
	currentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiosk_current_state",
			Help: "1 for the state the session is currently in, 0 otherwise",
		},
		[]string{"state"},
	)
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_remote_requests_total",
			Help: "Total number of remote calls labeled by operation and status",
		},
		[]string{"operation", "status"},
	)
	remoteRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiosk_remote_request_duration_seconds",
			Help:    "Duration of remote calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	pollerFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiosk_poller_failures_total",
			Help: "Total number of failed dispense status queries",
		},
	)
	consumptionReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_consumption_reports_total",
			Help: "Total number of consumption reports labeled by result",
		},
		[]string{"result"},
	)
	pendingTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiosk_pending_transactions",
			Help: "1 while an unsynced consumption is stored",
		},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_errors_total",
			Help: "Total number of handled errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_http_requests_total",
			Help: "Requests served by the diagnostics server",
		},
		[]string{"route", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiosk_http_request_duration_seconds",
			Help:    "Latency of diagnostics server requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	state.RegisterTransitionRecorder(RecordStateTransition)
	store.RegisterPendingRecorder(SetPendingTransaction)
}

// RecordStateTransition tracks session transitions and moves the current-state gauge.
func RecordStateTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	stateTransitionsTotal.WithLabelValues(from, to).Inc()
	SetCurrentState(to)
}

// SetCurrentState flags current as the active state.
func SetCurrentState(current string) {
	for _, s := range state.AllStates {
		value := 0.0
		if string(s) == current {
			value = 1
		}
		currentState.WithLabelValues(string(s)).Set(value)
	}
}

// RecordRemoteRequest counts a remote call and records its duration.
func RecordRemoteRequest(operation, status string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	remoteRequestsTotal.WithLabelValues(operation, status).Inc()
	remoteRequestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPollerFailure counts a failed status query.
func RecordPollerFailure() {
	pollerFailuresTotal.Inc()
}

// RecordConsumptionReport counts a consumption report by result ("ok", "failed", "recovered").
func RecordConsumptionReport(result string) {
	if result == "" {
		result = "unknown"
	}

	consumptionReportsTotal.WithLabelValues(result).Inc()
}

// SetPendingTransaction updates the pending-transaction gauge.
func SetPendingTransaction(pending bool) {
	if pending {
		pendingTransactions.Set(1)
		return
	}
	pendingTransactions.Set(0)
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	if code == "" {
		code = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(code, severity).Inc()
}

// RecordHTTPRequest counts a diagnostics request and records its latency.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}

	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// StateSource exposes the live session state.
type StateSource interface {
	State() state.State
}

// PendingSource exposes the stored pending transaction.
type PendingSource interface {
	GetLastTransaction(ctx context.Context) (*store.Transaction, error)
}

// StateCollector periodically re-reads the session and the store so the gauges stay
// correct after restarts and out-of-band store edits.
type StateCollector struct {
	session  StateSource
	pending  PendingSource
	interval time.Duration
}

// NewStateCollector builds a collector. A non-positive interval defaults to 10 seconds.
func NewStateCollector(session StateSource, pending PendingSource, interval time.Duration) *StateCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &StateCollector{session: session, pending: pending, interval: interval}
}

// Run refreshes the gauges every interval until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.session == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		_ = c.Collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect performs a single refresh.
func (c *StateCollector) Collect(ctx context.Context) error {
	SetCurrentState(string(c.session.State()))

	if c.pending == nil {
		return nil
	}

	tx, err := c.pending.GetLastTransaction(ctx)
	if err != nil {
		return err
	}

	SetPendingTransaction(tx != nil && !tx.Synced)
	return nil
}
