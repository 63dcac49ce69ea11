package recovery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/store"
	"github.com/Proton-105/pour-kiosk/internal/token"
	pkgredis "github.com/Proton-105/pour-kiosk/pkg/redis"
)

const machineID = "KIOSK-TEST"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	backend := store.NewRedisBackend(pkgredis.NewMetricsClient(pkgredis.Wrap(client)))
	t.Cleanup(func() { _ = backend.Close() })

	return store.New(backend, store.DefaultPrefix, testLogger())
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func pendingTransaction() store.Transaction {
	return store.Transaction{
		Token:        "payload.signature",
		MLServed:     299.6,
		MLAuthorized: 300,
		SaleID:       "SALE-42",
		Beverage:     store.BeverageRef{ID: "ipa", Name: "Chopp IPA"},
		FinishedAt:   time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC),
	}
}

func TestRun_NothingStored(t *testing.T) {
	st := setupStore(t)
	sim := remote.NewSimulator(testLogger())

	result := New(Config{MachineID: machineID}, st, sim, sim, nil, testLogger()).Run(context.Background())

	assert.Equal(t, Result{}, result)
	assert.Zero(t, sim.Calls(remote.OpReportConsumption))
}

func TestRun_ReportsPendingTransactionOnce(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	sim := remote.NewSimulator(testLogger())
	require.NoError(t, st.SaveTransaction(ctx, pendingTransaction()))

	coordinator := New(Config{MachineID: machineID}, st, sim, sim, nil, testLogger())

	result := coordinator.Run(ctx)
	assert.True(t, result.Reported)
	assert.False(t, result.Pending)

	reports := sim.Reports()
	require.Len(t, reports, 1)
	report := reports[0]
	assert.Equal(t, machineID, report.MachineID)
	assert.Equal(t, "SALE-42", report.SaleID)
	assert.Equal(t, "payload.signature", report.TokenID)
	assert.Equal(t, 300, report.MLServed)
	assert.Equal(t, 300, report.MLAuthorized)
	assert.Equal(t, remote.ConsumptionOK, report.Status)
	assert.Equal(t, report.FinishedAt, report.StartedAt)

	tx, err := st.GetLastTransaction(ctx)
	require.NoError(t, err)
	assert.Nil(t, tx)

	coordinator.Run(ctx)
	assert.Equal(t, 1, sim.Calls(remote.OpReportConsumption))
}

func TestRun_KeepsTransactionWhenReportFails(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	sim := remote.NewSimulator(testLogger())
	sim.FailNext(remote.OpReportConsumption, "no connection")
	alerts := &recordingNotifier{}

	tx := pendingTransaction()
	tx.Status = remote.ConsumptionPartial
	tx.DispenseError = "flow sensor timeout"
	require.NoError(t, st.SaveTransaction(ctx, tx))

	result := New(Config{MachineID: machineID}, st, sim, sim, alerts, testLogger()).Run(ctx)

	assert.False(t, result.Reported)
	assert.True(t, result.Pending)
	assert.Equal(t, 1, sim.Calls(remote.OpReportConsumption))
	require.Len(t, alerts.messages, 1)
	assert.Contains(t, alerts.messages[0], "SALE-42")

	stored, err := st.GetLastTransaction(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Synced)
	assert.Contains(t, stored.Error, "no connection")
	assert.Equal(t, remote.ConsumptionPartial, stored.Status)
}

func TestRun_DropsSyncedTransaction(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	sim := remote.NewSimulator(testLogger())

	tx := pendingTransaction()
	tx.Synced = true
	require.NoError(t, st.SaveTransaction(ctx, tx))

	result := New(Config{MachineID: machineID}, st, sim, sim, nil, testLogger()).Run(ctx)

	assert.False(t, result.Reported)
	assert.Zero(t, sim.Calls(remote.OpReportConsumption))
	stored, err := st.GetLastTransaction(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRun_RemovesTokenOfReportedTransaction(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	sim := remote.NewSimulator(testLogger())

	gen, err := token.NewGenerator("secret")
	require.NoError(t, err)
	tok, err := gen.Generate("SALE-42", "ipa", 300)
	require.NoError(t, err)

	tx := pendingTransaction()
	tx.Token = tok.Value
	require.NoError(t, st.SaveTransaction(ctx, tx))
	require.NoError(t, st.SaveToken(ctx, tok.Value, tok.ExpiresAt))

	result := New(Config{MachineID: machineID, ResumeDispensing: true}, st, sim, sim, nil, testLogger()).Run(ctx)

	assert.True(t, result.Reported)
	assert.Nil(t, result.Resume)
	record, err := st.GetToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Zero(t, sim.Calls(remote.OpGetStatus))
}

func TestRun_SurvivingToken(t *testing.T) {
	testCases := []struct {
		name        string
		resume      bool
		dispensing  bool
		wantResume  bool
		wantQueries int
	}{
		{name: "logged only", resume: false, dispensing: true, wantQueries: 0},
		{name: "gateway idle", resume: true, dispensing: false, wantQueries: 1},
		{name: "gateway pouring", resume: true, dispensing: true, wantResume: true, wantQueries: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			st := setupStore(t)
			sim := remote.NewSimulator(testLogger())

			gen, err := token.NewGenerator("secret")
			require.NoError(t, err)
			tok, err := gen.Generate("SALE-7", "pilsen", 400)
			require.NoError(t, err)
			require.NoError(t, st.SaveToken(ctx, tok.Value, tok.ExpiresAt))
			require.NoError(t, st.SaveAppState(ctx, state.Snapshot{
				State: state.StateDispensing,
				Data:  state.Data{state.KeySaleID: "SALE-7", state.KeyDispensingStartedAt: int64(1000)},
			}))

			if tc.dispensing {
				_, err := sim.Authorize(ctx, tok.Value)
				require.NoError(t, err)
			}

			result := New(Config{MachineID: machineID, ResumeDispensing: tc.resume}, st, sim, sim, nil, testLogger()).Run(ctx)

			assert.Equal(t, tc.wantQueries, sim.Calls(remote.OpGetStatus))
			if !tc.wantResume {
				assert.Nil(t, result.Resume)
				return
			}

			require.NotNil(t, result.Resume)
			assert.Equal(t, "SALE-7", result.Resume.SaleID)
			assert.Equal(t, tok.Value, result.Resume.Token)
			assert.True(t, result.Resume.Status.Dispensing)
			assert.EqualValues(t, 400, result.Resume.Data[state.KeyVolume])
			assert.EqualValues(t, 1000, result.Resume.Data[state.KeyDispensingStartedAt])
		})
	}
}

func TestRun_DiscardsMalformedToken(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	sim := remote.NewSimulator(testLogger())
	require.NoError(t, st.SaveToken(ctx, "not-a-token", time.Now().Add(time.Minute)))

	result := New(Config{MachineID: machineID, ResumeDispensing: true}, st, sim, sim, nil, testLogger()).Run(ctx)

	assert.Nil(t, result.Resume)
	record, err := st.GetToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)
}
