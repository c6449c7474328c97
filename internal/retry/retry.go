// Package retry re-runs a whole job attempt (submit and track) when it failed
// for a transient reason. Attempts are sequential; a retried attempt never
// overlaps its predecessor and always submits a fresh job.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"framegate/internal/clock"
	"framegate/internal/config"
	"framegate/internal/logging"
	"framegate/internal/services"
	"framegate/internal/tracker"
)

// Attempt runs one attempt. n starts at 1.
type Attempt func(ctx context.Context, n int) (*tracker.Record, error)

// Policy controls which outcomes are retried and how often.
type Policy struct {
	// Budget is the number of additional attempts; 0 disables retries.
	Budget int
	// RetryUnknown also retries attempts that ended with exit reason unknown.
	RetryUnknown bool
	Backoff      time.Duration
}

// PolicyFromConfig converts the retry configuration section.
func PolicyFromConfig(r config.Retry) Policy {
	return Policy{
		Budget:       r.Budget,
		RetryUnknown: r.RetryUnknown,
		Backoff:      time.Duration(r.BackoffSeconds) * time.Second,
	}
}

// Outcome is the final attempt plus how many attempts ran.
type Outcome struct {
	Record   *tracker.Record
	Attempts int
	// Retried lists the reason each earlier attempt was retried.
	Retried []string
}

// Coordinator applies a Policy.
type Coordinator struct {
	policy Policy
	clock  clock.Clock
	logger *slog.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock injects the clock used for backoff.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(co *Coordinator) {
		if logger != nil {
			co.logger = logger
		}
	}
}

// New constructs a Coordinator.
func New(policy Policy, opts ...Option) *Coordinator {
	if policy.Budget < 0 {
		policy.Budget = 0
	}
	co := &Coordinator{policy: policy, clock: clock.Real(), logger: logging.NewNop()}
	for _, opt := range opts {
		opt(co)
	}
	co.logger = logging.NewComponentLogger(co.logger, "retry")
	return co
}

// RunWithBudget runs attempt with budget additional retries, no backoff, and
// retries only transport failures.
func RunWithBudget(ctx context.Context, budget int, attempt Attempt) (Outcome, error) {
	return New(Policy{Budget: budget}).Run(ctx, attempt)
}

// Run executes attempts until one is not retryable or the budget is spent.
// The last attempt's record and error are returned as-is.
func (co *Coordinator) Run(ctx context.Context, attempt Attempt) (Outcome, error) {
	var out Outcome
	maxAttempts := co.policy.Budget + 1
	for n := 1; ; n++ {
		attemptCtx := services.WithAttempt(ctx, n)
		rec, err := attempt(attemptCtx, n)
		out.Record = rec
		out.Attempts = n

		reason, retry := Retryable(rec, err, co.policy.RetryUnknown)
		if !retry {
			return out, err
		}
		if n >= maxAttempts {
			if err != nil {
				return out, fmt.Errorf("retry budget of %d exhausted after %d attempts: %w", co.policy.Budget, n, err)
			}
			return out, nil
		}
		out.Retried = append(out.Retried, reason)
		logging.WarnWithContext(logging.WithContext(attemptCtx, co.logger), "retrying job attempt", "job_retry",
			logging.String("reason", reason),
			logging.Int("attempt", n),
			logging.Int("budget", co.policy.Budget),
			logging.String(logging.FieldErrorHint, "transient backend failure"),
			logging.String(logging.FieldImpact, "job is resubmitted from scratch"))
		if co.policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return out, services.Wrap(services.ErrCancelled, "retry", "backoff", "cancelled between attempts", ctx.Err())
			case <-co.clock.After(co.policy.Backoff):
			}
		}
	}
}

// Retryable reports whether an attempt outcome may be retried and why.
// Submission errors, cancellation, and the attemptLimit, maxWait, and
// postExecution exits are never retried.
func Retryable(rec *tracker.Record, err error, retryUnknown bool) (string, bool) {
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", false
		case errors.Is(err, services.ErrSubmission):
			return "", false
		case errors.Is(err, services.ErrNetwork):
			return "network", true
		default:
			return "", false
		}
	}
	if rec == nil || rec.Cancelled {
		return "", false
	}
	if rec.ExitReason == tracker.ExitUnknown && retryUnknown {
		return "unknown", true
	}
	return "", false
}
