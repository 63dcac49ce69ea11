// Package store persists the kiosk's recovery records: the current dispense token,
// the last transaction awaiting a consumption report, and the last session snapshot.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/pour-kiosk/pkg/config"
	pkgredis "github.com/Proton-105/pour-kiosk/pkg/redis"
)

// ErrNotFound is returned by a Backend when a key is absent.
var ErrNotFound = errors.New("key not found")

// Backend is a durable byte store addressed by string keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (Backend, error) {
	switch cfg.Store.Backend {
	case "redis":
		client, err := pkgredis.New(ctx, pkgredis.ConfigFrom(cfg.Redis))
		if err != nil {
			return nil, err
		}
		return NewRedisBackend(pkgredis.NewMetricsClient(client)), nil
	case "badger":
		return OpenBadger(cfg.Store.BadgerPath, log)
	case "postgres":
		return OpenPostgres(ctx, cfg.Store.PostgresDSN, log)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
