package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"relaypoint/internal/types"
)

// BreakerSettings configures the circuit breaker created for each
// dependency key.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open.
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays Open before a probe call
	// is allowed through (Half-Open).
	ResetTimeout time.Duration

	// HalfOpenMaxAttempts bounds how many calls may pass while Half-Open.
	HalfOpenMaxAttempts uint32
}

// DefaultBreakerSettings returns the settings applied to dependency keys
// without explicit configuration.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

// Registry owns one circuit breaker per named dependency (per channel, per
// external API). It is an explicit injected component rather than a
// module-level singleton: tests construct isolated instances, and a
// shared-store-backed implementation can replace it without changing call
// sites. Breaker state is per-process; workers do not synchronize breaker
// state across instances.
type Registry struct {
	mu       sync.Mutex
	settings BreakerSettings
	breakers map[string]*gobreaker.CircuitBreaker[any]
	logger   types.Logger
}

// NewRegistry creates a Registry applying the given settings to every
// dependency key it is asked for.
func NewRegistry(settings BreakerSettings, logger types.Logger) *Registry {
	return &Registry{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		logger:   logger,
	}
}

// breaker returns the circuit breaker for the dependency key, creating it
// on first use.
func (r *Registry) breaker(name string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: r.settings.HalfOpenMaxAttempts,
		Timeout:     r.settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	r.breakers[name] = cb
	return cb
}

// State reports the current state of the named dependency's breaker.
// A key that has never been used reports Closed.
func (r *Registry) State(name string) gobreaker.State {
	return r.breaker(name).State()
}

// Execute runs op through the named dependency's breaker. When the breaker
// is Open (or the Half-Open attempt budget is spent) the operation is not
// invoked and the call fails fast with an AppError of code circuit_open.
func (r *Registry) Execute(name string, op func() (any, error)) (any, error) {
	v, err := r.breaker(name).Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, types.NewAppError(
				types.ErrCodeCircuitOpen,
				"circuit breaker is open for dependency "+name,
				err,
			)
		}
		return nil, err
	}
	return v, nil
}

// Call composes the breaker and the retry policy for a dependency: each
// individual retry attempt is gated by the breaker, so a circuit that opens
// mid-sequence short-circuits the remaining attempts immediately. This
// bounds worst-case latency under sustained outage.
func Call[T any](ctx context.Context, reg *Registry, dep string, policy RetryPolicy, op Operation[T], opts ...Option) (T, error) {
	gated := func(ctx context.Context) (T, error) {
		var zero T
		v, err := reg.Execute(dep, func() (any, error) {
			return op(ctx)
		})
		if err != nil {
			return zero, err
		}
		return v.(T), nil
	}

	return Retry(ctx, policy, gated, opts...)
}
