package enrollment

import (
	"context"
	"time"
)

// BackoffFunc returns the wait before the given retry (1-based)
type BackoffFunc func(attempt int) time.Duration

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds how often a conflicting write is retried
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Sleep       SleepFunc
}

// LinearBackoff waits step × attempt
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// DefaultRetryPolicy allows 3 attempts with 100ms linear backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(100 * time.Millisecond),
		Sleep:       sleepContext,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	if p.Sleep == nil {
		p.Sleep = def.Sleep
	}
	return p
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
