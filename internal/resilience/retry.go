// Package resilience provides the shared retry and circuit-breaker
// primitives used for every outbound dependency call: notification channel
// transports, and any other third-party API that must tolerate transient
// failures without overwhelming a saturated dependency.
package resilience

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Operation is a cancellable unit of work executed under a retry policy.
type Operation[T any] func(ctx context.Context) (T, error)

// RetryPolicy defines the exponential backoff parameters for an outbound
// dependency. One instance is configured per dependency key.
type RetryPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	RetryableKinds map[Kind]bool
}

// DefaultRetryableKinds returns the transient error kinds: timeouts, 5xx
// responses, and rate limiting. Permanent rejections and validation errors
// are never retried.
func DefaultRetryableKinds() map[Kind]bool {
	return map[Kind]bool{
		KindTimeout:     true,
		KindServerError: true,
		KindRateLimited: true,
	}
}

// Standard retry policies per channel transport.
var (
	WebhookRetryPolicy = RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		BackoffFactor:  2.0,
		RetryableKinds: DefaultRetryableKinds(),
	}
	BroadcastRetryPolicy = RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  5.0,
		RetryableKinds: DefaultRetryableKinds(),
	}
)

// Backoff computes the delay before the next attempt:
// min(MaxDelay, InitialDelay * BackoffFactor^(attempt-1)) for 1-based attempts.
// The sequence is non-decreasing and capped at MaxDelay.
func Backoff(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		// Negative means float overflow; clamp either way.
		d = policy.MaxDelay
	}
	return d
}

// ExhaustedRetriesError is returned when every attempt under a retry policy
// has failed with a retryable error.
type ExhaustedRetriesError struct {
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("exhausted %d retry attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedRetriesError) Unwrap() error {
	return e.LastErr
}

// settings holds injectable knobs for Retry, primarily for tests.
type settings struct {
	sleepFn func(time.Duration)
}

// Option is a functional option for Retry and RetrySafe.
type Option func(*settings)

// WithSleepFunc overrides the sleep function used between attempts. Intended
// for testing to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(s *settings) {
		s.sleepFn = fn
	}
}

// Retry executes op up to policy.MaxAttempts times.
//
// On failure the error is classified: a non-retryable kind fails
// immediately with the original error (no further attempts), distinguishing
// permanent errors (validation, rejection) from transient ones. A retryable
// kind waits Backoff(policy, attempt) before the next attempt. Exhausting
// MaxAttempts fails with *ExhaustedRetriesError wrapping the last error.
//
// Context cancellation between attempts aborts with ctx.Err().
func Retry[T any](ctx context.Context, policy RetryPolicy, op Operation[T], opts ...Option) (T, error) {
	s := settings{sleepFn: time.Sleep}
	for _, opt := range opts {
		opt(&s)
	}

	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		kind := Classify(err)
		if kind == KindCircuitOpen {
			// A fully open circuit short-circuits all remaining attempts
			// rather than waiting out the backoff schedule.
			return zero, err
		}
		if !policy.RetryableKinds[kind] {
			return zero, err
		}

		if attempt < policy.MaxAttempts {
			s.sleepFn(Backoff(policy, attempt))
		}
	}

	return zero, &ExhaustedRetriesError{Attempts: policy.MaxAttempts, LastErr: lastErr}
}

// Result is the outcome envelope returned by RetrySafe.
type Result[T any] struct {
	Success  bool
	Value    T
	Err      error
	Attempts int
}

// RetrySafe is the non-raising variant of Retry for call sites that must
// not interrupt batch processing of sibling items. It returns a Result
// instead of an error; Attempts reports how many attempts were consumed.
func RetrySafe[T any](ctx context.Context, policy RetryPolicy, op Operation[T], opts ...Option) Result[T] {
	attempts := 0
	counted := func(ctx context.Context) (T, error) {
		attempts++
		return op(ctx)
	}

	v, err := Retry(ctx, policy, counted, opts...)
	if err != nil {
		return Result[T]{Err: err, Attempts: attempts}
	}
	return Result[T]{Success: true, Value: v, Attempts: attempts}
}
