package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/lambdakit/internal/metrics"
)

// Operation is one remote call that may be attempted several times.
// Implementations must be safe to invoke again after a failure.
type Operation[T any] interface {
	Attempt(ctx context.Context) (T, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc[T any] func(ctx context.Context) (T, error)

// Attempt calls f.
func (f OperationFunc[T]) Attempt(ctx context.Context) (T, error) {
	return f(ctx)
}

// Status describes one failed attempt of a retry run.
type Status struct {
	Op          string
	Attempt     int
	MaxAttempts int
	Class       ErrorClass
	Err         error
	NextDelay   time.Duration
	Elapsed     time.Duration
	WillRetry   bool
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return fmt.Sprintf("%s attempt %d/%d", s.Op, s.Attempt, s.MaxAttempts)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DefaultSleep waits on a timer and returns early with ctx's error.
func DefaultSleep(ctx context.Context, d time.Duration) error {
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

// Executor drives operations through a Policy.
type Executor struct {
	policy  *Policy
	sleep   SleepFunc
	now     func() time.Time
	log     *slog.Logger
	observe func(Status)
}

// ExecutorOption customises an Executor.
type ExecutorOption func(e *Executor)

// WithSleep replaces the backoff sleeper.
func WithSleep(fn SleepFunc) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithClock replaces the time source used to measure elapsed time.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger used for per-attempt events.
func WithLogger(log *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// WithObserver registers a callback invoked after every failed attempt.
func WithObserver(fn func(Status)) ExecutorOption {
	return func(e *Executor) {
		e.observe = fn
	}
}

// NewExecutor creates an executor for policy. A nil policy uses DefaultConfig.
func NewExecutor(policy *Policy, opts ...ExecutorOption) *Executor {
	if policy == nil {
		policy = NewPolicy(DefaultConfig)
	}
	e := &Executor{
		policy: policy,
		sleep:  DefaultSleep,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() *Policy {
	return e.policy
}

// Run executes fn with retries.
func (e *Executor) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, e, name, OperationFunc[struct{}](func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}))
	return err
}

// Execute attempts op until it succeeds or the policy gives up. Only the terminal
// error is returned, wrapped in *ExhaustedError.
func Execute[T any](ctx context.Context, e *Executor, name string, op Operation[T]) (T, error) {
	var zero T
	start := e.now()

	for attempt := 1; ; attempt++ {
		attemptStart := e.now()
		v, err := op.Attempt(ctx)
		metrics.OperationLatency.WithLabelValues(name).Observe(e.now().Sub(attemptStart).Seconds())
		if err == nil {
			if attempt > 1 {
				e.log.Debug("Operation recovered", "op", name, "attempts", attempt)
			}
			return v, nil
		}

		elapsed := e.now().Sub(start)
		decision := e.policy.Decide(err, attempt, elapsed)
		if decision.Retry && ctx.Err() != nil {
			decision = Decision{Class: ClassPermanent, Err: errors.Join(context.Cause(ctx), err)}
		}

		st := Status{
			Op:          name,
			Attempt:     attempt,
			MaxAttempts: e.policy.cfg.MaxAttempts,
			Class:       decision.Class,
			Err:         err,
			NextDelay:   decision.Delay,
			Elapsed:     elapsed,
			WillRetry:   decision.Retry,
		}
		e.record(st)

		if !decision.Retry {
			metrics.RetryExhausted.WithLabelValues(name, decision.Class.String()).Inc()
			return zero, &ExhaustedError{
				Op:       name,
				Attempts: attempt,
				Elapsed:  elapsed,
				Class:    decision.Class,
				Err:      decision.Err,
			}
		}

		if sleepErr := e.sleep(ctx, decision.Delay); sleepErr != nil {
			metrics.RetryExhausted.WithLabelValues(name, ClassPermanent.String()).Inc()
			return zero, &ExhaustedError{
				Op:       name,
				Attempts: attempt,
				Elapsed:  e.now().Sub(start),
				Class:    ClassPermanent,
				Err:      errors.Join(context.Cause(ctx), err),
			}
		}
	}
}

func (e *Executor) record(st Status) {
	metrics.RetryAttempts.WithLabelValues(st.Op, st.Class.String()).Inc()

	if st.WillRetry {
		e.log.Warn("Operation attempt failed, retrying",
			"op", st.Op,
			"attempt", st.Attempt,
			"max_attempts", st.MaxAttempts,
			"class", st.Class.String(),
			"delay", st.NextDelay,
			"error", st.Err,
		)
	} else {
		e.log.Error("Operation attempt failed, giving up",
			"op", st.Op,
			"attempt", st.Attempt,
			"class", st.Class.String(),
			"elapsed", st.Elapsed,
			"error", st.Err,
		)
	}

	if e.observe != nil {
		e.observe(st)
	}
}
