package uploader

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 1 * time.Second
)

// Retry invokes op, retrying transient failures with exponential backoff
// (baseDelay, 2*baseDelay, 4*baseDelay, ...). The last error is returned
// unchanged once attempts are exhausted.
//
// Context cancellation is never retried: a cancelled context aborts
// immediately, including mid-backoff. When isRetriable is non-nil it gates
// which errors get another attempt; a nil predicate retries everything.
// Retry keeps no state of its own, so independent operations can share it
// concurrently.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, op func() error, isRetriable func(error) bool) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				// The shared cancellation signal fired, not a per-request
				// timeout. Propagate without retrying.
				return lastErr
			}
		}

		if isRetriable != nil && !isRetriable(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		delay := baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
