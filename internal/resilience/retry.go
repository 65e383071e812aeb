// Package resilience wraps flaky external calls: exponential backoff with
// jitter, rate-limit-aware delays, and per-service token-bucket limiting.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"intentflow/internal/common/config"
	"intentflow/internal/common/errors"
	"intentflow/internal/common/logger"
)

// Config controls one retry loop.
type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsRetriable.
	Retryable func(error) bool
}

// FromResilienceConfig builds a retry Config from the loaded service config.
func FromResilienceConfig(cfg config.ResilienceConfig) Config {
	return Config{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		JitterFactor: cfg.JitterFactor,
	}
}

// WithRetry runs fn until it succeeds, the error is not retryable, attempts
// are exhausted or ctx is done. Exhaustion returns the last error.
func WithRetry(ctx context.Context, log logger.Logger, op string, cfg Config, fn func(ctx context.Context) error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetriable
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := Delay(attempt, cfg, IsRateLimited(lastErr))
		if log != nil {
			log.Warn("retrying after error", map[string]interface{}{
				"operation": op,
				"attempt":   attempt + 1,
				"delay_ms":  delay.Milliseconds(),
				"error":     lastErr.Error(),
			})
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// Delay computes the backoff before the attempt after `attempt`:
// min(base * 2^attempt, maxDelay) * (1 + jitter*rand), doubled again for
// rate-limit errors.
func Delay(attempt int, cfg Config, rateLimited bool) time.Duration {
	backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if ceiling := float64(cfg.MaxDelay); backoff > ceiling {
		backoff = ceiling
	}
	backoff *= 1 + cfg.JitterFactor*rand.Float64()
	if rateLimited {
		backoff *= 2
	}
	return time.Duration(backoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retriableSignatures are the transient-failure markers seen in RPC and HTTP
// client errors.
var retriableSignatures = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporarily unavailable",
	"eof",
	"500",
	"502",
	"503",
	"504",
}

// IsRetriable is the default retry predicate: network and timeout failures,
// 5xx signatures, rate limiting, stage errors whose code is retryable, and
// service errors flagged retryable by their source.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}

	var stageErr *errors.StageError
	if stderrors.As(err, &stageErr) {
		return errors.IsRetryableErrorCode(stageErr.Code)
	}
	var svcErr *errors.ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr.Retryable
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range retriableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether an error is a rate-limit rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var stageErr *errors.StageError
	if stderrors.As(err, &stageErr) && stageErr.Code == errors.ErrCodeRateLimited {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}
