package ratelimit

import (
	"context"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN BUCKET
// ══════════════════════════════════════════════════════════════════════════════

// TokenBucket implements the token bucket algorithm to control request rate.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	maxTokens   float64       // Maximum tokens in the bucket
	refillRate  float64       // Tokens added per second
	tokens      float64       // Current token count
	lastRefill  time.Time     // Last time tokens were added
	minInterval time.Duration // Minimum interval between requests
	lastRequest time.Time     // Time of last request
	waitTimeout time.Duration // Maximum time to wait for a token, 0 = unbounded
}

// Config contains configuration for the token bucket.
type Config struct {
	// RequestsPerSecond is the maximum sustained request rate
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests that can be made in a burst
	BurstSize int

	// MinInterval is the minimum time between requests (even with tokens available)
	MinInterval time.Duration

	// WaitTimeout is the maximum time to wait for a token
	WaitTimeout time.Duration
}

// DefaultConfig returns conservative defaults for the remote store.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5.0,
		BurstSize:         5,
		MinInterval:       50 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
	}
}

// NewTokenBucket creates a bucket that starts full. A nil clock uses the
// wall clock.
func NewTokenBucket(config Config, clock Clock) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}

	now := clock.Now()
	return &TokenBucket{
		clock:       clock,
		maxTokens:   float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		lastRefill:  now,
		minInterval: config.MinInterval,
		lastRequest: now.Add(-config.MinInterval), // Allow immediate first request
		waitTimeout: config.WaitTimeout,
	}
}

// RateLimitError is returned when a token cannot be obtained in time.
type RateLimitError struct {
	// RetryAfter is the suggested time to wait before retrying
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return "rate limit exceeded, retry after " + e.RetryAfter.String()
}

// Wait blocks until a token is available, the wait timeout would be
// exceeded, or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	deadline := tb.clock.Now().Add(tb.waitTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		waitTime, ok := tb.tryAcquire()
		if ok {
			return nil
		}

		if tb.waitTimeout > 0 && tb.clock.Now().Add(waitTime).After(deadline) {
			return &RateLimitError{RetryAfter: waitTime}
		}

		if err := tb.clock.Sleep(ctx, waitTime); err != nil {
			return err
		}
	}
}

// tryAcquire returns (waitTime, success).
func (tb *TokenBucket) tryAcquire() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	tb.refillTokens(now)

	if since := now.Sub(tb.lastRequest); since < tb.minInterval {
		return tb.minInterval - since, false
	}

	if tb.tokens < 1.0 {
		tokensNeeded := 1.0 - tb.tokens
		return time.Duration(tokensNeeded / tb.refillRate * float64(time.Second)), false
	}

	tb.tokens--
	tb.lastRequest = now
	return 0, true
}

// refillTokens must be called with lock held.
func (tb *TokenBucket) refillTokens(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
}

// RecordRateLimitHit empties the bucket after the remote answered 429 and
// holds further requests for retryAfter.
func (tb *TokenBucket) RecordRateLimitHit(retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	tb.tokens = 0
	tb.lastRefill = now
	tb.lastRequest = now
	if retryAfter > tb.minInterval {
		// lastRequest in the future delays the next acquire past retryAfter.
		tb.lastRequest = now.Add(retryAfter - tb.minInterval)
	}
}

// Status is a snapshot of the bucket.
type Status struct {
	AvailableTokens float64
	MaxTokens       float64
	RefillRate      float64
	LastRequest     time.Time
}

// Status returns the current status of the bucket.
func (tb *TokenBucket) Status() Status {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillTokens(tb.clock.Now())

	return Status{
		AvailableTokens: tb.tokens,
		MaxTokens:       tb.maxTokens,
		RefillRate:      tb.refillRate,
		LastRequest:     tb.lastRequest,
	}
}
