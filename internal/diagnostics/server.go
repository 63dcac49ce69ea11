// Package diagnostics serves the kiosk's local operator surface: probes, metrics, a
// view of the live session and the display's action endpoint.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/lifecycle"
	"github.com/Proton-105/pour-kiosk/internal/middleware"
	"github.com/Proton-105/pour-kiosk/internal/ratelimit"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/store"
	"github.com/Proton-105/pour-kiosk/internal/ui"
	"github.com/Proton-105/pour-kiosk/pkg/logger"
)

const maxActionBody = 1 << 10

// Session exposes the live session.
type Session interface {
	Snapshot() state.Snapshot
	PendingTimeout() (state.State, time.Duration, bool)
}

// PendingStore exposes the transaction awaiting a consumption report.
type PendingStore interface {
	GetLastTransaction(ctx context.Context) (*store.Transaction, error)
}

// Display is the presenter driving the kiosk screen.
type Display interface {
	Current() ui.Screen
	Dispatch(ctx context.Context, cmds ui.Commands, action string) error
}

// Deps are the collaborators of the diagnostics server. Display and Commands are
// optional; without them the action endpoint is not mounted.
type Deps struct {
	Probes   lifecycle.HealthChecker
	Session  Session
	Pending  PendingStore
	Display  Display
	Commands ui.Commands
	// Limiter and ActionLimit throttle the action endpoint.
	Limiter     ratelimit.Limiter
	ActionLimit ratelimit.Rule
	Log         *slog.Logger
}

// Server holds the diagnostics handlers.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// New creates a diagnostics server.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Server{deps: deps, log: log.With("component", "diagnostics")}
}

// Handler returns the routed handler wrapped in correlation, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /state", s.state)

	if s.deps.Display != nil {
		mux.HandleFunc("GET /screen", s.screen)
		if s.deps.Commands != nil {
			limited := middleware.RateLimit(s.deps.Limiter, s.deps.ActionLimit, s.log)
			mux.Handle("POST /ui/action", limited(http.HandlerFunc(s.action)))
		}
	}

	return logger.Middleware(middleware.Logging(s.log)(middleware.Metrics(mux)))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Probes.Liveness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Probes.Readiness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ready"})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	snapshot := s.deps.Session.Snapshot()

	resp := stateResponse{
		State:     snapshot.State,
		Data:      maskData(snapshot.Data),
		Timestamp: snapshot.Timestamp,
	}

	if target, after, ok := s.deps.Session.PendingTimeout(); ok {
		resp.Timeout = &timeoutView{Target: target, AfterMS: after.Milliseconds()}
	}

	if s.deps.Pending != nil {
		tx, err := s.deps.Pending.GetLastTransaction(r.Context())
		if err != nil {
			resp.PendingError = err.Error()
		} else if tx != nil {
			masked := *tx
			if masked.Token != "" {
				masked.Token = logger.Masked
			}
			resp.Pending = &masked
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) screen(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Display.Current())
}

func (s *Server) action(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "invalid", Error: "malformed request body"})
		return
	}

	if err := s.deps.Display.Dispatch(r.Context(), s.deps.Commands, req.Action); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.ErrorContext(r.Context(), "action failed", "action", req.Action, "error", err)
		}
		writeJSON(w, status, statusResponse{Status: "rejected", Error: err.Error(), Code: apperrors.CodeOf(err)})
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Display.Current())
}

func statusFor(err error) int {
	switch {
	case apperrors.Is(err, apperrors.CodeValidation):
		return http.StatusBadRequest
	case apperrors.Is(err, apperrors.CodeState):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

type timeoutView struct {
	Target  state.State `json:"target"`
	AfterMS int64       `json:"after_ms"`
}

type stateResponse struct {
	State        state.State        `json:"state"`
	Data         state.Data         `json:"data"`
	Timestamp    int64              `json:"timestamp"`
	Timeout      *timeoutView       `json:"timeout,omitempty"`
	Pending      *store.Transaction `json:"pending_transaction,omitempty"`
	PendingError string             `json:"pending_error,omitempty"`
}

type actionRequest struct {
	Action string `json:"action"`
}

// maskData replaces the values of sensitive top-level keys.
func maskData(data state.Data) state.Data {
	out := data.Clone()
	for key := range out {
		if logger.IsSensitiveKey(key) {
			out[key] = logger.Masked
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
