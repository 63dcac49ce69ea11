package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/pour-kiosk/pkg/logger"
)

// Message keys returned for errors that carry no user message of their own.
const (
	keyGeneric = "errors.generic"
	keyRemote  = "errors.remote"
)

// Handler logs errors at a level matching their severity and forwards severe ones
// to Sentry.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		log:           log,
		sentryEnabled: sentryEnabled,
	}
}

// Handle records err and returns the i18n key to show the customer and whether a retry makes sense.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attemptID := logger.AttemptIDFromContext(ctx)

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		attrs := []any{
			slog.String("code", appErr.Code),
			slog.String("severity", string(appErr.Severity)),
			slog.Bool("retryable", appErr.Retryable),
			slog.String("error", appErr.Message),
		}
		if attemptID != "" {
			attrs = append(attrs, slog.String("attempt_id", attemptID))
		}
		if cause := appErr.Unwrap(); cause != nil {
			attrs = append(attrs, slog.String("cause", cause.Error()))
		}

		h.log.Log(ctx, levelFor(appErr.Severity), "kiosk error", attrs...)

		if h.sentryEnabled && (appErr.Severity == SeverityCritical || appErr.Severity == SeverityHigh) {
			h.sendToSentry(err, attemptID)
		}

		return UserMessageOf(appErr), appErr.Retryable
	}

	switch {
	case errors.Is(err, context.Canceled):
		// The attempt was abandoned; nothing to show.
		h.log.DebugContext(ctx, "operation cancelled", "attempt_id", attemptID)
		return "", false
	case errors.Is(err, context.DeadlineExceeded):
		h.log.WarnContext(ctx, "operation timed out", "attempt_id", attemptID, "error", err)
		return keyRemote, true
	}

	h.log.ErrorContext(ctx, "unexpected error", "attempt_id", attemptID, "error", err)

	if h.sentryEnabled {
		h.sendToSentry(err, attemptID)
	}

	return keyGeneric, false
}

func levelFor(severity Severity) slog.Level {
	switch severity {
	case SeverityLow:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (h *Handler) sendToSentry(err error, attemptID string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		var appErr *AppError
		if errors.As(err, &appErr) && appErr != nil {
			scope.SetTag("code", appErr.Code)
			scope.SetTag("severity", string(appErr.Severity))
		}
		if attemptID != "" {
			scope.SetTag("attempt_id", attemptID)
		}

		sentry.CaptureException(err)
	})
}
