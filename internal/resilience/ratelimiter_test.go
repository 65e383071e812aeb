package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intentflow/internal/common/config"
)

func TestRateLimiter_TokenAccounting(t *testing.T) {
	// One token per minute: no refill can happen during the test.
	limiter := NewRateLimiter(3, 1)

	assert.True(t, limiter.TryAcquire())
	assert.True(t, limiter.TryAcquire())
	assert.True(t, limiter.TryAcquire())
	assert.False(t, limiter.TryAcquire())
	assert.Equal(t, 0, limiter.Tokens())
}

func TestRateLimiter_Refills(t *testing.T) {
	limiter := NewRateLimiter(2, 60000) // 1ms per token

	require.True(t, limiter.TryAcquire())
	require.True(t, limiter.TryAcquire())
	require.False(t, limiter.TryAcquire())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, limiter.TryAcquire())
}

func TestRateLimiter_RefillIsCapped(t *testing.T) {
	limiter := NewRateLimiter(2, 60000)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, limiter.Tokens())
}

func TestRateLimiter_AcquireBlocksUntilToken(t *testing.T) {
	limiter := NewRateLimiter(1, 60000)
	require.True(t, limiter.TryAcquire())

	start := time.Now()
	require.NoError(t, limiter.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond)
}

func TestRateLimiter_AcquireHonorsContext(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	require.True(t, limiter.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Acquire(ctx), context.DeadlineExceeded)
}

func TestLimiterRegistry_LazyPerService(t *testing.T) {
	registry := NewLimiterRegistry(config.ResilienceConfig{
		MaxTokens:  5,
		RateLimits: map[string]int{"ethereum-rpc": 30},
	})

	a := registry.For("ethereum-rpc")
	b := registry.For("ethereum-rpc")
	assert.Same(t, a, b)

	c := registry.For("validator")
	assert.NotSame(t, a, c)
	assert.Equal(t, 5, c.Tokens())
}
