// Package retry implements bounded retry with exponential backoff. The
// entry monitor, exit engine, and settlement forwarder all share this policy
// instead of hand-rolling their own loops.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Classifier decides whether an error is worth retrying. Permanent errors
// (invalid input, insufficient funds) stop the loop immediately.
type Classifier func(error) bool

// Policy is a bounded retry schedule. Delay doubles each attempt from
// BaseDelay up to MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy retries three times starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Do runs fn until it succeeds, the classifier reports a permanent error,
// the attempt budget is exhausted, or ctx is cancelled. The last error is
// returned wrapped with the attempt count when the budget runs out.
func Do(ctx context.Context, p Policy, retryable Classifier, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return fmt.Errorf("retry: %d attempt(s) exhausted: %w", attempts, lastErr)
}
