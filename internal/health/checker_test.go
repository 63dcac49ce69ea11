package health

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/pour-kiosk/internal/store"
	pkgredis "github.com/Proton-105/pour-kiosk/pkg/redis"
)

func TestChecker(t *testing.T) {
	checker := NewChecker(nil)
	checker.AddCheck("store", NewPingChecker(store.NewMemoryBackend()))
	checker.AddCheck("gateway", CheckFunc(func(context.Context) error { return errors.New("unreachable") }))
	checker.AddCheck("", CheckFunc(func(context.Context) error { return nil }))

	results := checker.Check(context.Background())
	assert.Equal(t, map[string]string{"store": "OK", "gateway": "unreachable"}, results)

	err := checker.Err(context.Background())
	require.Error(t, err)
	assert.Equal(t, "gateway: unreachable", err.Error())
}

func TestPingChecker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := pkgredis.New(context.Background(), pkgredis.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	check := NewPingChecker(client)
	assert.NoError(t, check.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, check.HealthCheck(context.Background()))
}

func TestPingChecker_Nil(t *testing.T) {
	assert.Error(t, NewPingChecker(nil).HealthCheck(context.Background()))
}
