package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of transient adapter failures.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy is used when a zero policy is configured.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Initial: 2 * time.Second, Max: 30 * time.Second}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultRetryPolicy.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0 // bounded by MaxAttempts instead
	b.Reset()
	return b
}

// attempt is the outcome of one bounded retry loop.
type attempt struct {
	result   Result
	err      *APIError
	attempts int
	// exhausted is set when the last failure was still transient.
	exhausted bool
}

// call invokes fn until it succeeds, fails permanently, or the attempt
// ceiling is reached. Each attempt waits for the throttle first. A non-nil
// error return means ctx ended and the outcome is unknown.
func (p RetryPolicy) call(ctx context.Context, throttle *Throttle, fn func(context.Context) (Result, error)) (attempt, error) {
	p = p.withDefaults()
	delays := p.backOff()

	var out attempt
	for out.attempts < p.MaxAttempts {
		if err := throttle.Wait(ctx); err != nil {
			return out, err
		}
		out.attempts++

		res, err := fn(ctx)
		if err == nil {
			out.result = res
			out.err = nil
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		out.err = classify(err)
		if out.err.Kind != Transient {
			return out, nil
		}
		if out.attempts == p.MaxAttempts {
			break
		}

		delay := delays.NextBackOff()
		slog.Warn("transient api error, retrying",
			"attempt", out.attempts, "max_attempts", p.MaxAttempts, "delay", delay, "error", out.err.Message)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, ctx.Err()
		case <-timer.C:
		}
	}
	out.exhausted = true
	return out, nil
}
