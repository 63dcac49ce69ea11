package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Shutdown runs hooks in two stages: every Register hook concurrently, then every
// RegisterFinal hook concurrently. Resources the first stage still uses, such as the
// store, belong in the final stage.
type Shutdown struct {
	mu    sync.Mutex
	hooks [2][]Hook
	log   *slog.Logger
}

// NewShutdown constructs a new Shutdown coordinator.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a hook to the first stage.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	s.add(0, name, fn)
}

// RegisterFinal adds a hook that runs after the first stage completed.
func (s *Shutdown) RegisterFinal(name string, fn func(context.Context) error) {
	s.add(1, name, fn)
}

func (s *Shutdown) add(stage int, name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks[stage] = append(s.hooks[stage], Hook{Name: name, Fn: fn})
}

// Execute runs both stages and joins the hook errors.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	stages := [2][]Hook{
		append([]Hook(nil), s.hooks[0]...),
		append([]Hook(nil), s.hooks[1]...),
	}
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(stages[0])+len(stages[1])))

	var errs []error
	for _, hooks := range stages {
		errs = append(errs, s.runStage(ctx, hooks)...)
	}

	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))

	return errors.Join(errs...)
}

func (s *Shutdown) runStage(ctx context.Context, hooks []Hook) []error {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)

	for _, h := range hooks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			s.log.Info("running shutdown hook", slog.String("hook", h.Name))

			if err := h.Fn(ctx); err != nil {
				s.log.Error("shutdown hook failed", slog.String("hook", h.Name), slog.Any("error", err))
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				errMu.Unlock()
				return
			}

			s.log.Info("shutdown hook completed", slog.String("hook", h.Name))
		}()
	}

	wg.Wait()
	return errs
}
