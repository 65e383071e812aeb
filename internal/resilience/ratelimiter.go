package resilience

import (
	"context"
	"sync"
	"time"

	"intentflow/internal/common/config"
)

// RateLimiter is a token bucket. The refill interval is derived from a
// requests-per-minute budget; Acquire blocks until a token frees up, it
// never rejects.
type RateLimiter struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillInterval time.Duration
	lastRefill     time.Time
}

// NewRateLimiter creates a full bucket of maxTokens refilled at
// requestsPerMinute.
func NewRateLimiter(maxTokens, requestsPerMinute int) *RateLimiter {
	if maxTokens < 1 {
		maxTokens = 1
	}
	if requestsPerMinute < 1 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillInterval: time.Minute / time.Duration(requestsPerMinute),
		lastRefill:     time.Now(),
	}
}

// TryAcquire takes a token without blocking.
func (l *RateLimiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())
	if l.tokens == 0 {
		return false
	}
	l.tokens--
	return true
}

// Acquire blocks until a token is available or ctx is done.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}
		if err := sleep(ctx, l.refillInterval); err != nil {
			return err
		}
	}
}

// Tokens reports the currently available tokens after refill.
func (l *RateLimiter) Tokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return l.tokens
}

func (l *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.refillInterval {
		return
	}
	refilled := int(elapsed / l.refillInterval)
	l.tokens += refilled
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(refilled) * l.refillInterval)
}

// LimiterRegistry hands out one limiter per external-service name, created
// lazily and cached for the registry's lifetime. Injected into the
// coordinator rather than living as a package global so tests get isolation.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter

	maxTokens  int
	rateLimits map[string]int
	defaultRPM int
}

// NewLimiterRegistry creates a registry from the configured per-service
// requests-per-minute budgets.
func NewLimiterRegistry(cfg config.ResilienceConfig) *LimiterRegistry {
	return &LimiterRegistry{
		limiters:   make(map[string]*RateLimiter),
		maxTokens:  cfg.MaxTokens,
		rateLimits: cfg.RateLimits,
		defaultRPM: 120,
	}
}

// For returns the limiter for a service, creating it on first use.
func (r *LimiterRegistry) For(service string) *RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[service]
	if !ok {
		rpm := r.defaultRPM
		if budget, ok := r.rateLimits[service]; ok && budget > 0 {
			rpm = budget
		}
		limiter = NewRateLimiter(r.maxTokens, rpm)
		r.limiters[service] = limiter
	}
	return limiter
}
