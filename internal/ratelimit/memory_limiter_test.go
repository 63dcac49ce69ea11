package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/pour-kiosk/pkg/config"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newLimiter() (*MemoryLimiter, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMemoryLimiter(log, WithNow(clock.Now)), clock
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	limiter, clock := newLimiter()

	for i := range 3 {
		res, err := limiter.Check(ctx, "alerts", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		clock.Advance(10 * time.Second)
	}

	res, err := limiter.Check(ctx, "alerts", 3, time.Minute)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), res.ResetAt)

	res, err = limiter.Check(ctx, "actions", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	clock.Advance(30 * time.Second)
	res, err = limiter.Check(ctx, "alerts", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	ctx := context.Background()
	limiter, clock := newLimiter()

	_, err := limiter.Check(ctx, "old", 5, time.Minute)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = limiter.Check(ctx, "fresh", 5, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 0, limiter.Cleanup(0))
	assert.Equal(t, 1, limiter.Cleanup(5*time.Minute))
	assert.Len(t, limiter.buckets, 1)
	assert.Contains(t, limiter.buckets, "fresh")
}

func TestAllow(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newLimiter()
	rule := RuleFrom(config.RateLimitRule{Limit: 1, Window: time.Minute})

	assert.True(t, Allow(ctx, limiter, "k", rule))
	assert.False(t, Allow(ctx, limiter, "k", rule))
	assert.True(t, Allow(ctx, limiter, "k", Rule{}))
	assert.True(t, Allow(ctx, nil, "k", rule))
}
