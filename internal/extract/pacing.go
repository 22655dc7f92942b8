// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces backend calls. Wait blocks until a call estimated at
// tokens input tokens may start, or until ctx is done.
type Limiter interface {
	Wait(ctx context.Context, tokens int) error
}

// NoDelay is a Limiter that never waits.
type NoDelay struct{}

// Wait returns immediately unless ctx is already done.
func (NoDelay) Wait(ctx context.Context, _ int) error { return ctx.Err() }

// FixedInterval enforces a fixed blocking pause before every call except
// the first. The pause does not shrink when the previous call was slow.
type FixedInterval struct {
	Interval time.Duration

	mu      sync.Mutex
	started bool
}

// NewFixedInterval returns a gate that pauses d between calls.
func NewFixedInterval(d time.Duration) *FixedInterval {
	return &FixedInterval{Interval: d}
}

// Wait sleeps Interval unless this is the first call.
func (f *FixedInterval) Wait(ctx context.Context, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		f.started = true
		return ctx.Err()
	}
	return sleep(ctx, f.Interval)
}

// TokenBucket limits estimated input tokens per minute.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows tokensPerMinute tokens per minute with a burst of
// one minute's allowance.
func NewTokenBucket(tokensPerMinute int) *TokenBucket {
	perSecond := float64(tokensPerMinute) / 60
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), tokensPerMinute)}
}

// Wait reserves tokens, capped at the burst so oversized chunks still run.
func (b *TokenBucket) Wait(ctx context.Context, tokens int) error {
	n := min(max(tokens, 1), b.limiter.Burst())
	return b.limiter.WaitN(ctx, n)
}

// Chain applies limiters in order.
type Chain []Limiter

// Wait waits on every limiter in turn.
func (c Chain) Wait(ctx context.Context, tokens int) error {
	for _, l := range c {
		if err := l.Wait(ctx, tokens); err != nil {
			return err
		}
	}
	return nil
}

// RetryPolicy bounds attempts per field and spaces them out.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls allowed for one field.
	MaxAttempts int

	// Backoff returns the wait before attempt n+1, given n >= 1 failed attempts.
	Backoff func(attempt int) time.Duration
}

// DefaultMaxAttempts is the per-field attempt ceiling.
const DefaultMaxAttempts = 3

// ExponentialBackoff waits base*2^(attempt-1), capped at ceiling when
// ceiling is positive.
func ExponentialBackoff(base, ceiling time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
		if ceiling > 0 && d > ceiling {
			return ceiling
		}
		return d
	}
}

// NoBackoff never waits between attempts.
func NoBackoff(int) time.Duration { return 0 }

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p RetryPolicy) wait(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
