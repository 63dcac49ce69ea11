package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Proton-105/pour-kiosk/internal/ratelimit"
)

// RateLimit rejects requests over rule with 429. Requests are keyed by path only.
func RateLimit(limiter ratelimit.Limiter, rule ratelimit.Rule, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ratelimit.Allow(r.Context(), limiter, "http:"+r.URL.Path, rule) {
				log.Warn("rate limit exceeded", slog.String("path", r.URL.Path))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
