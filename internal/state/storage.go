// Package state implements the kiosk session state machine.
package state

import (
	"context"
	"time"
)

// Storage persists the machine's (state, data) snapshot after every transition.
type Storage interface {
	SaveAppState(ctx context.Context, snapshot Snapshot) error
}

// Poller is started on entry to DISPENSING and stopped on exit.
// Start and Stop must not block waiting on the machine.
type Poller interface {
	Start(interval time.Duration)
	Stop()
}
