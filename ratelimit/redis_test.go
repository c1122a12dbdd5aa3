package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	auth "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ auth.AttemptLimiter = (*ratelimit.FixedWindow)(nil)

func newLimiter(t *testing.T, opts ...ratelimit.Option) (*ratelimit.FixedWindow, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return ratelimit.NewFixedWindow(rdb, opts...), mr
}

func TestFixedWindowDeniesAfterBudget(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newLimiter(t, ratelimit.WithBudget(2), ratelimit.WithWindow(time.Minute))

	for i := 0; i < 2; i++ {
		allowed, retry, err := limiter.Allow(ctx, "reset:alice@example.com")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Zero(t, retry)
	}

	allowed, retry, err := limiter.Allow(ctx, "reset:alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, time.Minute)

	allowed, _, err = limiter.Allow(ctx, "reset:bob@example.com")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are budgeted independently")
}

func TestFixedWindowOpensAfterExpiry(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newLimiter(t, ratelimit.WithBudget(1), ratelimit.WithWindow(time.Minute))

	allowed, _, err := limiter.Allow(ctx, "verify:1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "verify:1")
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(time.Minute + time.Second)

	allowed, _, err = limiter.Allow(ctx, "verify:1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFixedWindowUsesPrefix(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newLimiter(t, ratelimit.WithPrefix("test"))

	_, _, err := limiter.Allow(ctx, "verify:1")
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:verify:1"))

	require.NoError(t, limiter.Reset(ctx, "verify:1"))
	assert.False(t, mr.Exists("test:verify:1"))
}

func TestFixedWindowReportsUnavailableRedis(t *testing.T) {
	limiter, mr := newLimiter(t)
	mr.Close()

	_, _, err := limiter.Allow(context.Background(), "verify:1")
	require.Error(t, err)
}
