package auth

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted is returned by RetryPolicy.Do when every attempt failed with a retryable error.
var ErrRetriesExhausted = errors.New("retries exhausted")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failed attempt is retried. Nil retries every error.
	Retryable func(error) bool
}

// Delay returns the wait before attempt (0-indexed): min(BaseDelay << attempt, MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for range attempt {
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
		delay *= 2
	}
	return min(delay, p.MaxDelay)
}

// Do calls op up to MaxAttempts times, waiting Delay(i) before attempt i. It stops at the first
// success or non-retryable error. When every attempt fails it returns ErrRetriesExhausted joined
// with the last error.
func (p RetryPolicy) Do(ctx context.Context, sleep SleepFunc, op func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := range p.MaxAttempts {
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}
	return errors.Join(ErrRetriesExhausted, lastErr)
}

// sleepContext is the default SleepFunc.
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
