package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	policy := DefaultRetryPolicy()

	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, want := range expected {
		if got := policy.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, expected %v", attempt, got, want)
		}
	}

	if got := policy.Delay(200); got != 30*time.Second {
		t.Errorf("Delay(200) = %v, expected the cap", got)
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	errRetry := errors.New("retry me")
	errFatal := errors.New("give up")
	noSleep := func(context.Context, time.Duration) error { return nil }

	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errRetry) },
	}

	tests := []struct {
		name          string
		results       []error
		expectedErr   error
		expectedCalls int
	}{
		{"succeeds first time", []error{nil}, nil, 1},
		{"succeeds after retries", []error{errRetry, errRetry, nil}, nil, 3},
		{"stops on fatal error", []error{errRetry, errFatal, nil}, errFatal, 2},
		{"exhausts attempts", []error{errRetry, errRetry, errRetry}, ErrRetriesExhausted, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := policy.Do(context.Background(), noSleep, func(context.Context, int) error {
				result := tt.results[calls]
				calls++
				return result
			})

			if tt.expectedErr == nil && err != nil {
				t.Errorf("Do() error = %v, expected nil", err)
			}
			if tt.expectedErr != nil && !errors.Is(err, tt.expectedErr) {
				t.Errorf("Do() error = %v, expected %v", err, tt.expectedErr)
			}
			if calls != tt.expectedCalls {
				t.Errorf("calls = %d, expected %d", calls, tt.expectedCalls)
			}
		})
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, expected %v", err, context.Canceled)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v, expected nil", err)
	}
}
