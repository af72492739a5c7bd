package qustodio

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultJitterFraction = 0.25
	defaultAttemptTimeout = 15 * time.Second
)

// RetryPolicy tunes request retries. Zero fields fall back to defaults.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	AttemptTimeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.JitterFraction <= 0 {
		p.JitterFraction = defaultJitterFraction
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = defaultAttemptTimeout
	}
	return p
}

type retrier struct {
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

func newRetrier(policy RetryPolicy, logger *slog.Logger) *retrier {
	return &retrier{
		policy: policy.withDefaults(),
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
}

// do runs op until it succeeds, fails fatally, or the attempt budget is
// spent. Each attempt runs under its own timeout. The error returned after
// the final attempt keeps its original category.
func (r *retrier) do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.backoff(attempt-1, lastErr)
			r.logger.Debug("retrying request",
				"request", name,
				"attempt", attempt,
				"delay", delay.String(),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		if !isRetryableError(err) {
			return err
		}
	}
	return lastErr
}

// backoff computes the pause before the given retry. A rate-limit hint from
// the server overrides the computed delay; a rate limit without a hint
// doubles the base.
func (r *retrier) backoff(retry int, lastErr error) time.Duration {
	var rateErr *RateLimitError
	rateLimited := errors.As(lastErr, &rateErr)
	if rateLimited && rateErr.RetryAfter > 0 {
		return rateErr.RetryAfter
	}

	base := r.policy.BaseDelay
	if rateLimited {
		base *= 2
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(retry-1)))
	if delay <= 0 || delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}
	return delay + time.Duration(r.jitter()*r.policy.JitterFraction*float64(delay))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
