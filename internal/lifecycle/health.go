package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// DependencyChecker reports the combined state of the kiosk's dependencies.
type DependencyChecker interface {
	Err(ctx context.Context) error
}

// Probes answers the diagnostics probes. The kiosk is live as long as the process
// serves requests; it is ready once boot succeeded and its dependencies respond.
type Probes struct {
	deps DependencyChecker
	log  *slog.Logger

	mu      sync.RWMutex
	booted  bool
	bootErr error
}

// NewProbes creates a new Probes instance. deps may be nil.
func NewProbes(deps DependencyChecker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{deps: deps, log: log}
}

// MarkBooted records a successful boot.
func (p *Probes) MarkBooted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.booted = true
	p.bootErr = nil
}

// MarkBootFailed puts the kiosk in diagnostic mode: readiness fails with err until
// the next successful boot.
func (p *Probes) MarkBootFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.booted = false
	p.bootErr = err
}

// BootError returns the error of a failed boot, if any.
func (p *Probes) BootError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bootErr
}

// Liveness always reports success.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness fails while boot is pending or failed, or when a dependency is down.
func (p *Probes) Readiness(ctx context.Context) error {
	p.mu.RLock()
	booted, bootErr := p.booted, p.bootErr
	p.mu.RUnlock()

	if bootErr != nil {
		return fmt.Errorf("boot failed: %w", bootErr)
	}
	if !booted {
		return fmt.Errorf("boot in progress")
	}

	if p.deps != nil {
		if err := p.deps.Err(ctx); err != nil {
			return err
		}
	}

	return nil
}
