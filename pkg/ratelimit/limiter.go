package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter blocks until the caller may issue its next request.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

// Wait only reports context cancellation.
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

// OrUnlimited returns l, or Unlimited when l is nil.
func OrUnlimited(l Limiter) Limiter {
	if l == nil {
		return Unlimited{}
	}
	return l
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXED INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// Interval enforces a minimum pause between consecutive calls to Wait.
// The first call never blocks.
type Interval struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	last     time.Time
}

// NewInterval creates an interval pacer. A nil clock uses the wall clock.
func NewInterval(interval time.Duration, clock Clock) *Interval {
	if clock == nil {
		clock = RealClock{}
	}
	return &Interval{clock: clock, interval: interval}
}

// Wait blocks until interval has passed since the previous call returned.
func (p *Interval) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interval > 0 && !p.last.IsZero() {
		if remaining := p.interval - p.clock.Now().Sub(p.last); remaining > 0 {
			if err := p.clock.Sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.last = p.clock.Now()
	return nil
}
