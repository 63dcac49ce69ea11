package middleware

import (
	"net/http"
	"time"

	"github.com/Proton-105/pour-kiosk/pkg/metrics"
)

// Metrics reports every request to Prometheus, labelled with the matched route.
// It must wrap the ServeMux directly so the route pattern is visible after dispatch.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, sw.code(), time.Since(start))
	})
}
