package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intentflow/internal/common/errors"
)

func testRetryConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0.2,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, "rpc", testRetryConfig(), func(context.Context) error {
		calls++
		if calls < 3 {
			return stderrors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	last := stderrors.New("request timed out")
	err := WithRetry(context.Background(), nil, "rpc", testRetryConfig(), func(context.Context) error {
		calls++
		return last
	})

	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, "rpc", testRetryConfig(), func(context.Context) error {
		calls++
		return errors.NewStageError(errors.StageExecute, errors.ErrCodeChainReverted, "reverted")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesRetryableServiceError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), nil, "ledger finalize", testRetryConfig(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.NewLedgerWriteError(stderrors.New("pq: connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, nil, "rpc", testRetryConfig(), func(context.Context) error {
		return stderrors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_IsBounded(t *testing.T) {
	cfg := Config{
		BaseDelay:    250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.2,
	}
	bound := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.JitterFactor))

	for attempt := 0; attempt < 20; attempt++ {
		d := Delay(attempt, cfg, false)
		assert.LessOrEqual(t, d, bound, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, cfg.BaseDelay)
	}
}

func TestDelay_RateLimitDoubles(t *testing.T) {
	cfg := Config{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
	}
	// No jitter: the doubling is exact.
	assert.Equal(t, 2*Delay(0, cfg, false), Delay(0, cfg, true))
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"network refusal", stderrors.New("dial tcp: connection refused"), true},
		{"http 503", stderrors.New("unexpected status 503"), true},
		{"rate limited", stderrors.New("429 too many requests"), true},
		{"retryable stage error", errors.NewStageError(errors.StageExecute, errors.ErrCodeSubmissionFailed, "rpc down"), true},
		{"terminal stage error", errors.NewStageError(errors.StageExecute, errors.ErrCodeInsufficientBalance, "broke"), false},
		{"retryable service error", errors.NewLedgerWriteError(stderrors.New("pq: deadlock detected")), true},
		{"non-retryable service error", &errors.ServiceError{Code: errors.ErrCodeUnexpected, Message: "bad state"}, false},
		{"business error", stderrors.New("invalid argument"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetriable(tt.err))
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(stderrors.New("rate limit exceeded")))
	assert.True(t, IsRateLimited(errors.NewStageError(errors.StageExecute, errors.ErrCodeRateLimited, "slow down")))
	assert.False(t, IsRateLimited(stderrors.New("timeout")))
}
