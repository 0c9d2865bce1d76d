// Package retrier implements bounded retry with pluggable backoff, used by
// the pooled client layer and the remote cache tier.
package retrier

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy selects how the delay between attempts grows.
type BackoffStrategy int

const (
	// LinearBackoff waits baseDelay * attemptNumber between attempts.
	LinearBackoff BackoffStrategy = iota
	// ExponentialBackoff waits baseDelay * factor^attempt, capped at maxDelay.
	ExponentialBackoff
)

// Retrier executes a function up to maxAttempts times. A nil error stops the
// loop immediately; a permanent error stops it without further attempts.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	factor      float64
	jitter      float64
	strategy    BackoffStrategy
}

// NewLinear builds a retrier with linear backoff: the wait before retry n is
// baseDelay * n.
func NewLinear(maxAttempts int, baseDelay time.Duration) *Retrier {
	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    time.Duration(maxAttempts) * baseDelay,
		factor:      1,
		strategy:    LinearBackoff,
	}
}

// NewExponential builds a retrier with capped exponential backoff and jitter.
func NewExponential(maxAttempts int, baseDelay, maxDelay time.Duration, factor, jitter float64) *Retrier {
	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		factor:      factor,
		jitter:      jitter,
		strategy:    ExponentialBackoff,
	}
}

// Run executes fn until it succeeds, a permanent error occurs, the context is
// done, or attempts are exhausted. The last error is returned wrapped with
// the attempt count.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	return r.RunNotify(ctx, fn, nil)
}

// RunNotify is Run with a per-failure callback. notify receives the 1-based
// attempt number and the error for every failed attempt, including the last.
func (r *Retrier) RunNotify(ctx context.Context, fn func() error, notify func(attempt int, err error)) error {
	var err error
	attempt := 1
	for ; attempt <= r.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if notify != nil {
			notify(attempt, err)
		}
		if IsPermanent(err) || attempt == r.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempt, err)
}

// delay returns the wait inserted after the given 1-based failed attempt.
func (r *Retrier) delay(attempt int) time.Duration {
	var d float64
	switch r.strategy {
	case LinearBackoff:
		d = float64(r.baseDelay) * float64(attempt)
	case ExponentialBackoff:
		d = float64(r.baseDelay) * math.Pow(r.factor, float64(attempt-1))
	}
	if d > float64(r.maxDelay) {
		d = float64(r.maxDelay)
	}
	if r.jitter > 0 {
		d += rand.Float64() * r.jitter * d
	}
	return time.Duration(d)
}
