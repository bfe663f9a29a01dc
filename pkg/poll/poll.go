// Package poll waits for a condition over externally observed state.
//
// Every verification in the suite has the same shape: observe the cluster,
// compare the observation with a target, sleep for a fixed interval and try
// again until the target is reached or the budget runs out. Until captures
// that shape once so callers only provide the observation and the predicate.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// ErrTimedOut is wrapped by the error returned from Until when the condition
// was not satisfied within the policy budget.
var ErrTimedOut = errors.New("timed out waiting for the condition")

// ErrInvalidPolicy is wrapped by the error returned from Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid poll policy")

// Outcome is the terminal state of a single Until call.
type Outcome int

const (
	// Satisfied means the predicate held for the last observation.
	Satisfied Outcome = iota + 1
	// TimedOut means the budget was exhausted first.
	TimedOut
	// ObservationFailed means the observation itself returned an error.
	ObservationFailed
	// Interrupted means the context was done while waiting for the next attempt.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "Satisfied"
	case TimedOut:
		return "TimedOut"
	case ObservationFailed:
		return "ObservationFailed"
	case Interrupted:
		return "Interrupted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Policy bounds a poll. Interval must be positive and at least one of
// Timeout or MaxAttempts must be set; when both are set the first one
// reached ends the poll.
type Policy struct {
	// Interval is the constant delay between two observations.
	Interval time.Duration
	// Timeout is measured from the first observation.
	Timeout time.Duration
	// MaxAttempts caps the number of observations.
	MaxAttempts int
}

// Validate reports whether the policy can bound a poll.
func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidPolicy, p.Interval)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %v", ErrInvalidPolicy, p.Timeout)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must not be negative, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Timeout == 0 && p.MaxAttempts == 0 {
		return fmt.Errorf("%w: one of timeout or max attempts is required", ErrInvalidPolicy)
	}
	return nil
}

func (p Policy) String() string {
	switch {
	case p.Timeout > 0 && p.MaxAttempts > 0:
		return fmt.Sprintf("every %v for %v or %d attempts", p.Interval, p.Timeout, p.MaxAttempts)
	case p.MaxAttempts > 0:
		return fmt.Sprintf("every %v for %d attempts", p.Interval, p.MaxAttempts)
	default:
		return fmt.Sprintf("every %v for %v", p.Interval, p.Timeout)
	}
}

// Result describes how a poll ended. Observation holds the last successful
// observation, which is the zero value if none succeeded.
type Result[T any] struct {
	Outcome     Outcome
	Observation T
	Attempts    int
	Elapsed     time.Duration
}

// ObservationError is returned when the observe function fails. Polling
// stops at the failing attempt; the failure is not retried.
type ObservationError struct {
	Attempt int
	Err     error
}

func (e *ObservationError) Error() string {
	return fmt.Sprintf("observation failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *ObservationError) Unwrap() error {
	return e.Err
}

type options struct {
	clock clock.Clock
}

// Option customizes Until.
type Option func(*options)

// WithClock makes Until read time and sleep on c.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Until observes until satisfied returns true for an observation or the
// policy budget is spent.
//
// The predicate is always evaluated before the budget is checked, so an
// observation that arrives in time is never discarded, and no sleep happens
// when the first observation already satisfies the predicate. The returned
// error is nil when satisfied and wraps ErrTimedOut when the budget ran out.
// It is an *ObservationError when observe failed, the context error when ctx
// was done while sleeping, and wraps ErrInvalidPolicy when nothing was observed
// because the policy cannot bound the poll.
func Until[T any](ctx context.Context, policy Policy, observe func(context.Context) (T, error), satisfied func(T) bool, opts ...Option) (Result[T], error) {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	var res Result[T]
	if err := policy.Validate(); err != nil {
		return res, err
	}

	start := o.clock.Now()
	for {
		res.Attempts++
		observation, err := observe(ctx)
		res.Elapsed = o.clock.Since(start)
		if err != nil {
			res.Outcome = ObservationFailed
			return res, &ObservationError{Attempt: res.Attempts, Err: err}
		}
		res.Observation = observation

		if satisfied(observation) {
			res.Outcome = Satisfied
			return res, nil
		}
		if policy.MaxAttempts > 0 && res.Attempts >= policy.MaxAttempts {
			res.Outcome = TimedOut
			return res, fmt.Errorf("%w after %d attempts (%v), last observation: %v", ErrTimedOut, res.Attempts, res.Elapsed, observation)
		}
		if policy.Timeout > 0 && res.Elapsed >= policy.Timeout {
			res.Outcome = TimedOut
			return res, fmt.Errorf("%w after %v (%d attempts), last observation: %v", ErrTimedOut, res.Elapsed, res.Attempts, observation)
		}

		if err := sleep(ctx, o.clock, policy.Interval); err != nil {
			res.Outcome = Interrupted
			res.Elapsed = o.clock.Since(start)
			return res, err
		}
	}
}

func sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
