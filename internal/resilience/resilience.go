// Package resilience wraps a handler invocation with a per-handler
// circuit breaker, an overall deadline, and a retry/backoff loop,
// composed in that order so a broken circuit fails fast without
// waiting out a retry budget.
//
// The circuit breaker itself is internal/circuitbreaker.Breaker.
// Retry delay sequencing uses cenkalti/backoff/v5.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oriys/workq/internal/circuitbreaker"
	"github.com/oriys/workq/internal/logging"
)

var (
	// ErrBrokenCircuit is returned without invoking the handler when the
	// breaker is Open, HalfOpen-exhausted, or ManuallyOpen.
	ErrBrokenCircuit = errors.New("resilience: circuit breaker is open")
	// ErrTimeout is returned when the overall deadline elapses before the
	// handler (including retries) settles.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// Policy configures one resilience-wrapped invocation point: a worker's
// handler call, typically one per registered job type.
type Policy struct {
	Name string

	// MaxRetries is the number of additional attempts after the first
	// (0 disables retrying entirely; the handler runs exactly once).
	MaxRetries int
	// BaseDelay and Multiplier feed the backoff/v5 exponential backoff;
	// BaseDelay <= 0 disables the delay between retries.
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// ShouldRetry decides whether a failed attempt should be retried at
	// all. nil means every error is retryable.
	ShouldRetry func(error) bool
	// Unhandled marks error kinds that bypass the circuit breaker and
	// the retry loop entirely — the policy records neither a success
	// nor a failure and returns the error immediately. Used for errors
	// the handler cannot meaningfully recover from by retrying (e.g.
	// invalid-argument class errors).
	Unhandled func(error) bool

	// Timeout bounds the whole invocation, retries included. <= 0 means
	// no overall deadline beyond ctx's own.
	Timeout time.Duration

	Breaker *circuitbreaker.Breaker
}

// Execute runs fn under the policy: circuit breaker gate, overall
// timeout, then a retry loop with exponential backoff.
func Execute[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if p.Breaker != nil && !p.Breaker.Allow() {
		return zero, fmt.Errorf("%w: %s", ErrBrokenCircuit, p.Name)
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	op := func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if p.Unhandled != nil && p.Unhandled(err) {
			return zero, backoff.Permanent(err)
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxRetries)+1),
	)

	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
			err = fmt.Errorf("%w: %s: %v", ErrTimeout, p.Name, err)
		}
		recordUnhandled(p, err)
		return zero, err
	}

	if p.Breaker != nil {
		p.Breaker.RecordSuccess()
	}
	return result, nil
}

// recordUnhandled records the final failure against the breaker unless
// the error was flagged Unhandled, in which case the breaker is left
// untouched: an unhandled error is a caller mistake, not a sign that
// the downstream dependency is unhealthy.
func recordUnhandled(p Policy, err error) {
	if p.Unhandled != nil && p.Unhandled(err) {
		return
	}
	if p.Breaker != nil {
		p.Breaker.RecordFailure()
	}
	logging.Op().Warn("resilience policy exhausted retries", "policy", p.Name, "error", err)
}

func (p Policy) newBackOff() backoff.BackOff {
	if p.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	opts := []backoff.ExponentialBackOffOpts{backoff.WithInitialInterval(p.BaseDelay)}
	if p.Multiplier > 1 {
		opts = append(opts, backoff.WithMultiplier(p.Multiplier))
	}
	if p.MaxDelay > 0 {
		opts = append(opts, backoff.WithMaxInterval(p.MaxDelay))
	}
	return backoff.NewExponentialBackOff(opts...)
}
