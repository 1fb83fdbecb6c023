package interpret

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often and how fast failed calls are retried.
type RetryPolicy struct {
	// MaxAttempts includes the first call.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the +/- fraction applied to each backoff (0.0 to 1.0).
	Jitter float64
	// AttemptTimeout bounds a single call; zero means no per-attempt bound.
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		AttemptTimeout: 30 * time.Second,
	}
}

// Backoff returns the wait before retry number n (1-based), without jitter.
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if p.MaxBackoff > 0 && time.Duration(d) >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

func (p RetryPolicy) jittered(n int) time.Duration {
	d := p.Backoff(n)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * p.Jitter * float64(d)
	return d + time.Duration(delta)
}

// Retrier decorates an Interpreter with bounded exponential backoff.
// Non-retryable failures are returned immediately.
type Retrier struct {
	next   Interpreter
	policy RetryPolicy
	logger *slog.Logger

	// OnAttempt, if set, observes each attempt outcome:
	// "ok", "retry", "failed" or "exhausted".
	OnAttempt func(outcome string)

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(next Interpreter, policy RetryPolicy, logger *slog.Logger) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrier{next: next, policy: policy, logger: logger, sleep: sleepCtx}
}

func (r *Retrier) Interpret(ctx context.Context, req Request) (Result, error) {
	return r.do(ctx, "interpret", func(ctx context.Context) (Result, error) {
		return r.next.Interpret(ctx, req)
	})
}

func (r *Retrier) FollowUp(ctx context.Context, req FollowUpRequest) (Result, error) {
	return r.do(ctx, "follow_up", func(ctx context.Context) (Result, error) {
		return r.next.FollowUp(ctx, req)
	})
}

func (r *Retrier) do(ctx context.Context, op string, call func(context.Context) (Result, error)) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		out, err := r.attempt(ctx, call)
		if err == nil {
			r.observe("ok")
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			r.observe("failed")
			return Result{}, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		wait := r.policy.jittered(attempt)
		r.observe("retry")
		r.logger.WarnContext(ctx, "interpretation attempt failed, retrying",
			"op", op, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err)
		if err := r.sleep(ctx, wait); err != nil {
			return Result{}, err
		}
	}
	r.observe("exhausted")
	return Result{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.policy.MaxAttempts, lastErr)
}

func (r *Retrier) attempt(ctx context.Context, call func(context.Context) (Result, error)) (Result, error) {
	if r.policy.AttemptTimeout <= 0 {
		return call(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	out, err := call(actx)
	if err != nil && actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return out, err
}

func (r *Retrier) observe(outcome string) {
	if r.OnAttempt != nil {
		r.OnAttempt(outcome)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
