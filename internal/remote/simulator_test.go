package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/token"
)

func TestSimulator_PurchaseFlow(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(testLogger(), WithStep(25))

	catalog, err := sim.GetBeverages(ctx)
	require.NoError(t, err)
	require.Len(t, catalog.Beverages, 4)
	pilsen, ok := catalog.Find("03c91279-bb24-467c-9a42-fb707a4eaa9d")
	require.True(t, ok)
	assert.True(t, pilsen.Alcoholic())

	sale, err := sim.RegisterSale(ctx, SaleRequest{BeverageID: pilsen.ID, VolumeML: 200})
	require.NoError(t, err)
	assert.Equal(t, "MOCK_SALE_1", sale.SaleID)

	gen, err := token.NewGenerator("secret")
	require.NoError(t, err)
	tok, err := gen.Generate(sale.SaleID, pilsen.ID, 200)
	require.NoError(t, err)

	auth, err := sim.Authorize(ctx, tok.Value)
	require.NoError(t, err)
	assert.True(t, auth.Authorized)
	assert.Nil(t, auth.Result, "simulated pours run asynchronously")

	var served []float64
	for i := 0; i < 4; i++ {
		status, err := sim.GetStatus(ctx)
		require.NoError(t, err)
		served = append(served, status.ServedML)
		assert.Equal(t, "MOCK_SALE_1", status.SaleID)
		assert.Equal(t, i == 3, status.Terminal())
	}
	assert.Equal(t, []float64{50, 100, 150, 200}, served)

	status, err := sim.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Completed(), "stays finished until reset")

	sim.Reset()
	status, err = sim.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispenseIdle, status.Status)
}

func TestSimulator_FailNext(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(testLogger())

	sim.FailNext(OpGetStatus, "no connection")
	sim.FailNext(OpGetStatus, "timeout")

	_, err := sim.GetStatus(ctx)
	assert.EqualError(t, err, "get_status: no connection")
	_, err = sim.GetStatus(ctx)
	assert.EqualError(t, err, "get_status: timeout")
	_, err = sim.GetStatus(ctx)
	assert.NoError(t, err)

	assert.Equal(t, 3, sim.Calls(OpGetStatus))
	assert.Zero(t, sim.Calls(OpAuthorize))
}

func TestSimulator_RejectsMalformedToken(t *testing.T) {
	sim := NewSimulator(testLogger())

	_, err := sim.Authorize(context.Background(), "not-a-token")
	assert.True(t, apperrors.Is(err, apperrors.CodeRemote))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestSimulator_LatencyHonorsContext(t *testing.T) {
	sim := NewSimulator(testLogger(), WithLatency(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.GetBeverages(ctx)
	assert.EqualError(t, err, "get_beverages: timeout")
}

func TestSimulator_RecordsReports(t *testing.T) {
	sim := NewSimulator(testLogger())

	ack, err := sim.ReportConsumption(context.Background(), ConsumptionReport{MachineID: "M001", MLServed: 300, Status: ConsumptionOK})
	require.NoError(t, err)
	assert.Equal(t, "MOCK_CONSUMPTION_1", ack.ConsumptionID)
	require.Len(t, sim.Reports(), 1)
	assert.Equal(t, 300, sim.Reports()[0].MLServed)
}
