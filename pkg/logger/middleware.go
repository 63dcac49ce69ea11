package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// attemptIDKey marks the context storage slot for the purchase attempt identifier.
type attemptIDKey struct{}

// correlationIDKey marks the context storage slot for the request correlation identifier.
type correlationIDKey struct{}

// WithAttemptID stores a purchase attempt identifier in ctx.
func WithAttemptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptIDKey{}, id)
}

// NewAttemptID returns a fresh purchase attempt identifier.
func NewAttemptID() string {
	return uuid.NewString()
}

// AttemptIDFromContext returns the attempt identifier stored in ctx, or an empty string when absent.
func AttemptIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(attemptIDKey{}).(string); ok {
		return id
	}

	return ""
}

// CorrelationIDFromContext returns the correlation identifier stored in ctx, or an empty string when absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}

	return ""
}

// Middleware injects a correlation identifier into the request context before delegating to the next handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", correlationID)
		ctxWithID := context.WithValue(r.Context(), correlationIDKey{}, correlationID)
		next.ServeHTTP(w, r.WithContext(ctxWithID))
	})
}
