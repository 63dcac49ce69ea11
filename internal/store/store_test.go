package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/state"
	pkgredis "github.com/Proton-105/pour-kiosk/pkg/redis"
)

var errBackendDown = errors.New("backend down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, Backend) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	backend := NewRedisBackend(pkgredis.NewMetricsClient(pkgredis.Wrap(client)))
	t.Cleanup(func() { _ = backend.Close() })

	return mr, backend
}

func setupBadger(t *testing.T) Backend {
	t.Helper()

	backend, err := OpenBadger("", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	return backend
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errBackendDown
}

func (failingBackend) Set(context.Context, string, []byte) error {
	return errBackendDown
}

func (failingBackend) Delete(context.Context, string) error {
	return errBackendDown
}

func (failingBackend) Ping(context.Context) error {
	return errBackendDown
}

func (failingBackend) Close() error {
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func TestStore_Backends(t *testing.T) {
	testCases := []struct {
		name    string
		backend func(t *testing.T) Backend
	}{
		{name: "redis", backend: func(t *testing.T) Backend { _, b := setupTestRedis(t); return b }},
		{name: "badger", backend: setupBadger},
		{name: "memory", backend: func(*testing.T) Backend { return NewMemoryBackend() }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := New(tc.backend(t), DefaultPrefix, testLogger())

			tx := Transaction{
				Token:        "payload.sig",
				MLServed:     298.6,
				MLAuthorized: 300,
				SaleID:       "SALE_42",
				Beverage:     BeverageRef{ID: "ipa", Name: "IPA"},
				FinishedAt:   time.Date(2025, 3, 14, 18, 31, 0, 0, time.UTC),
			}
			require.NoError(t, s.SaveTransaction(ctx, tx))

			got, err := s.GetLastTransaction(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tx, *got)

			require.NoError(t, s.RemoveTransaction(ctx))
			got, err = s.GetLastTransaction(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.RemoveTransaction(ctx), "removing twice is fine")
			assert.NoError(t, s.Ping(ctx))
		})
	}
}

func TestStore_PrefixesKeys(t *testing.T) {
	mr, backend := setupTestRedis(t)
	s := New(backend, DefaultPrefix, testLogger())

	require.NoError(t, s.SaveAppState(context.Background(), state.Snapshot{
		State:     state.StateIdle,
		Data:      state.Data{},
		Timestamp: 1710441000000,
	}))

	assert.True(t, mr.Exists("bierpass_app_state"))
	raw, err := mr.Get("bierpass_app_state")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"IDLE","data":{},"timestamp":1710441000000}`, raw)
}

func TestStore_TokenExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC)}
	s := New(NewMemoryBackend(), DefaultPrefix, testLogger()).WithClock(clock)

	expiresAt := clock.now.Add(90 * time.Second)
	require.NoError(t, s.SaveToken(ctx, "payload.sig", expiresAt))

	clock.now = expiresAt.Add(-time.Second)
	record, err := s.GetToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "payload.sig", record.Token)
	assert.True(t, record.ExpiresAt.Equal(expiresAt))

	clock.now = expiresAt
	record, err = s.GetToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)

	clock.now = expiresAt.Add(-time.Minute)
	record, err = s.GetToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, record, "expired token is evicted, not just hidden")
}

func TestStore_RejectsUnserializableValue(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(backend, DefaultPrefix, testLogger())

	err := s.Set(ctx, "bad", map[string]any{"ch": make(chan int)})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
	_, getErr := backend.Get(ctx, DefaultPrefix+"bad")
	assert.ErrorIs(t, getErr, ErrNotFound)
}

func TestStore_BackendFailureIsReported(t *testing.T) {
	ctx := context.Background()
	s := New(failingBackend{}, DefaultPrefix, testLogger())

	err := s.SaveToken(ctx, "payload.sig", time.Now().Add(time.Minute))
	assert.True(t, apperrors.Is(err, apperrors.CodePersistence))
	assert.ErrorIs(t, err, errBackendDown)

	record, err := s.GetToken(ctx)
	assert.Nil(t, record)
	assert.True(t, apperrors.Is(err, apperrors.CodePersistence))

	tx, err := s.GetLastTransaction(ctx)
	assert.Nil(t, tx)
	assert.Error(t, err)

	assert.Error(t, s.RemoveTransaction(ctx))
}

func TestStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, DefaultPrefix+KeyLastTransaction, []byte("{not json")))

	s := New(backend, DefaultPrefix, testLogger())
	tx, err := s.GetLastTransaction(ctx)

	assert.Nil(t, tx)
	assert.True(t, apperrors.Is(err, apperrors.CodePersistence))
}

func TestStore_OverwritingUnsyncedTransactionWarns(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := New(NewMemoryBackend(), DefaultPrefix, log)

	var pending []bool
	RegisterPendingRecorder(func(p bool) { pending = append(pending, p) })
	t.Cleanup(func() { RegisterPendingRecorder(nil) })

	require.NoError(t, s.SaveTransaction(ctx, Transaction{SaleID: "SALE_1", Error: "timeout"}))
	assert.Empty(t, buf.String())

	require.NoError(t, s.SaveTransaction(ctx, Transaction{SaleID: "SALE_2"}))
	assert.Contains(t, buf.String(), "overwriting unsynced transaction")
	assert.Contains(t, buf.String(), "dropped_sale_id=SALE_1")

	got, err := s.GetLastTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SALE_2", got.SaleID)

	require.NoError(t, s.RemoveTransaction(ctx))
	assert.Equal(t, []bool{true, true, false}, pending)
}

func TestStore_AppStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), DefaultPrefix, testLogger())

	snapshot, err := s.GetAppState(ctx)
	require.NoError(t, err)
	assert.Nil(t, snapshot)

	require.NoError(t, s.SaveAppState(ctx, state.Snapshot{
		State:     state.StateDispensing,
		Data:      state.Data{state.KeySaleID: "SALE_9", state.KeyMLServed: 120.5},
		Timestamp: 1710441000000,
	}))

	snapshot, err = s.GetAppState(ctx)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, state.StateDispensing, snapshot.State)
	assert.Equal(t, "SALE_9", snapshot.Data.String(state.KeySaleID))
	served, ok := snapshot.Data.Float(state.KeyMLServed)
	assert.True(t, ok)
	assert.InDelta(t, 120.5, served, 0.001)
}
