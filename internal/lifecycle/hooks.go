// Package lifecycle coordinates the kiosk's readiness and its orderly shutdown.
package lifecycle

import "context"

// Hook describes a named shutdown hook.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}
