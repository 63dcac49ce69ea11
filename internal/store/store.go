package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/state"
)

// Record keys, stored under the configured prefix.
const (
	KeyCurrentToken    = "current_token"
	KeyLastTransaction = "last_transaction"
	KeyAppState        = "app_state"
)

// DefaultPrefix namespaces every key written by the kiosk.
const DefaultPrefix = "bierpass_"

var pendingRecorder = func(pending bool) {}

// RegisterPendingRecorder observes whether an unsynced transaction is stored.
func RegisterPendingRecorder(recorder func(pending bool)) {
	if recorder == nil {
		pendingRecorder = func(bool) {}
		return
	}

	pendingRecorder = recorder
}

// TokenRecord is the persisted dispense token.
type TokenRecord struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	SavedAt   time.Time `json:"savedAt"`
}

// Expired reports whether the token is no longer valid at now.
func (r TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// BeverageRef identifies the beverage of a transaction.
type BeverageRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transaction is a consumption that has not been confirmed as reported.
type Transaction struct {
	Token        string      `json:"token"`
	MLServed     float64     `json:"ml_served"`
	MLAuthorized float64     `json:"ml_authorized"`
	SaleID       string      `json:"sale_id"`
	Beverage     BeverageRef `json:"beverage"`
	StartedAt    time.Time   `json:"startedAt,omitzero"`
	FinishedAt   time.Time   `json:"finishedAt"`
	// Status is the consumption status to report; empty means OK.
	Status        string `json:"status,omitempty"`
	DispenseError string `json:"dispense_error,omitempty"`
	Synced        bool   `json:"synced"`
	// Error is the last report failure.
	Error string `json:"error,omitempty"`
}

// Store is the key-prefixed recovery store. Every failure is logged and returned
// to the caller; nothing panics.
type Store struct {
	backend Backend
	prefix  string
	log     *slog.Logger
	clock   state.Clock
}

// New creates a Store writing through backend.
func New(backend Backend, prefix string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		backend: backend,
		prefix:  prefix,
		log:     log.With("component", "store"),
		clock:   state.SystemClock,
	}
}

// WithClock replaces the time source used for token expiry.
func (s *Store) WithClock(clock state.Clock) *Store {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Set serializes value as JSON under key. Values that cannot be serialized are rejected
// before anything is written.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		s.log.Error("refusing to store unserializable value", "key", key, "error", err)
		return apperrors.NewValidationError(fmt.Sprintf("value for %q is not serializable", key)).Wrap(err)
	}

	if err := s.backend.Set(ctx, s.prefix+key, data); err != nil {
		s.log.Error("store write failed", "key", key, "error", err)
		return apperrors.NewPersistenceError("set", err)
	}

	return nil
}

// Get decodes the value under key into dst. found is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string, dst any) (found bool, err error) {
	data, err := s.backend.Get(ctx, s.prefix+key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		s.log.Error("store read failed", "key", key, "error", err)
		return false, apperrors.NewPersistenceError("get", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Error("stored value is corrupt", "key", key, "error", err)
		return false, apperrors.NewPersistenceError("decode", err)
	}

	return true, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.prefix+key); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Error("store delete failed", "key", key, "error", err)
		return apperrors.NewPersistenceError("delete", err)
	}

	return nil
}

// SaveToken persists the current dispense token.
func (s *Store) SaveToken(ctx context.Context, token string, expiresAt time.Time) error {
	return s.Set(ctx, KeyCurrentToken, TokenRecord{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		SavedAt:   s.clock.Now().UTC(),
	})
}

// GetToken returns the persisted token, or nil when none is stored. Expired tokens
// are evicted and reported as absent.
func (s *Store) GetToken(ctx context.Context) (*TokenRecord, error) {
	var record TokenRecord
	found, err := s.Get(ctx, KeyCurrentToken, &record)
	if err != nil || !found {
		return nil, err
	}

	if record.Expired(s.clock.Now()) {
		s.log.Info("evicting expired token", "expires_at", record.ExpiresAt)
		if err := s.Remove(ctx, KeyCurrentToken); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &record, nil
}

// RemoveToken deletes the persisted token.
func (s *Store) RemoveToken(ctx context.Context) error {
	return s.Remove(ctx, KeyCurrentToken)
}

// SaveTransaction stores tx as the single pending transaction. Overwriting a different
// unsynced transaction is logged at WARN so the dropped report is never silent.
func (s *Store) SaveTransaction(ctx context.Context, tx Transaction) error {
	var previous Transaction
	found, err := s.Get(ctx, KeyLastTransaction, &previous)
	if err == nil && found && !previous.Synced && previous.SaleID != tx.SaleID {
		s.log.Warn("overwriting unsynced transaction",
			"dropped_sale_id", previous.SaleID,
			"dropped_ml_served", previous.MLServed,
			"sale_id", tx.SaleID,
		)
	}

	if err := s.Set(ctx, KeyLastTransaction, tx); err != nil {
		return err
	}

	pendingRecorder(!tx.Synced)
	return nil
}

// GetLastTransaction returns the pending transaction, or nil when none is stored.
func (s *Store) GetLastTransaction(ctx context.Context) (*Transaction, error) {
	var tx Transaction
	found, err := s.Get(ctx, KeyLastTransaction, &tx)
	if err != nil || !found {
		return nil, err
	}

	return &tx, nil
}

// RemoveTransaction deletes the pending transaction.
func (s *Store) RemoveTransaction(ctx context.Context) error {
	if err := s.Remove(ctx, KeyLastTransaction); err != nil {
		return err
	}

	pendingRecorder(false)
	return nil
}

// SaveAppState mirrors the session snapshot. It satisfies state.Storage.
func (s *Store) SaveAppState(ctx context.Context, snapshot state.Snapshot) error {
	return s.Set(ctx, KeyAppState, snapshot)
}

// GetAppState returns the last persisted session snapshot, or nil.
func (s *Store) GetAppState(ctx context.Context) (*state.Snapshot, error) {
	var snapshot state.Snapshot
	found, err := s.Get(ctx, KeyAppState, &snapshot)
	if err != nil || !found {
		return nil, err
	}

	return &snapshot, nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
