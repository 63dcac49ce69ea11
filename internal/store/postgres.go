package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	// register the postgres driver
	_ "github.com/lib/pq"

	"github.com/Proton-105/pour-kiosk/internal/database"
)

const (
	selectValueSQL = `SELECT value FROM kiosk_kv WHERE key = $1`
	upsertValueSQL = `INSERT INTO kiosk_kv (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	deleteValueSQL = `DELETE FROM kiosk_kv WHERE key = $1`
)

// PostgresBackend stores records in the kiosk_kv table.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend wraps an open database handle. The schema must already exist.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// OpenPostgres connects to dsn and applies the embedded schema migrations.
func OpenPostgres(ctx context.Context, dsn string, log *slog.Logger) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := database.NewMigrator(db, log).ApplyEmbedded(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewPostgresBackend(db), nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := b.db.QueryRowContext(ctx, selectValueSQL, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return value, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	// lib/pq sends []byte as bytea; jsonb needs text
	_, err := b.db.ExecContext(ctx, upsertValueSQL, key, string(value))
	return err
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, deleteValueSQL, key)
	return err
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
