package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// BackoffPolicy is the parsed form of schema.RetryPolicy.
// The zero value retries immediately.
type BackoffPolicy struct {
	Strategy schema.BackoffStrategy
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultBackoff is a fixed one second pause between attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Strategy: schema.BackoffConstant, Delay: time.Second}
}

// ParseBackoff converts a declarative retry policy into a BackoffPolicy.
// A nil policy yields DefaultBackoff.
func ParseBackoff(p *schema.RetryPolicy) (BackoffPolicy, error) {
	if p == nil {
		return DefaultBackoff(), nil
	}

	out := DefaultBackoff()
	switch p.Backoff {
	case "", schema.BackoffConstant:
	case schema.BackoffLinear, schema.BackoffExponential:
		out.Strategy = p.Backoff
	default:
		return out, schema.NewErrorf(schema.ErrCodeValidation, "unknown backoff strategy %q", p.Backoff)
	}

	if p.Delay != "" {
		d, err := time.ParseDuration(p.Delay)
		if err != nil || d < 0 {
			return out, schema.NewErrorf(schema.ErrCodeValidation, "invalid retry delay %q", p.Delay)
		}
		out.Delay = d
	}
	if p.MaxDelay != "" {
		d, err := time.ParseDuration(p.MaxDelay)
		if err != nil || d < 0 {
			return out, schema.NewErrorf(schema.ErrCodeValidation, "invalid retry max_delay %q", p.MaxDelay)
		}
		out.MaxDelay = d
	}
	return out, nil
}

func (p BackoffPolicy) String() string {
	s := string(p.Strategy)
	if s == "" {
		s = string(schema.BackoffConstant)
	}
	if p.MaxDelay > 0 {
		return fmt.Sprintf("%s(%s, max %s)", s, p.Delay, p.MaxDelay)
	}
	return fmt.Sprintf("%s(%s)", s, p.Delay)
}

// IsRetryableError classifies whether a failed attempt may be followed by another.
// Every failure is retryable except explicit opt-outs, an open circuit and
// caller cancellation.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch {
	case schema.IsCode(err, schema.ErrCodeNonRetryable),
		schema.IsCode(err, schema.ErrCodeCircuitOpen),
		schema.IsCode(err, schema.ErrCodeCancelled),
		schema.IsCode(err, schema.ErrCodeAssertionFailed):
		return false
	}
	return true
}

// ComputeBackoff calculates the delay before the next attempt.
// attempt is zero-based: 0 is the wait after the first failure.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Strategy {
	case schema.BackoffExponential:
		delay = policy.Delay
		for i := 0; i < attempt; i++ {
			if delay > math.MaxInt64/2 {
				delay = math.MaxInt64
				break
			}
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				break
			}
		}
	case schema.BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if the context is cancelled.
// Returns an error if the context was cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
