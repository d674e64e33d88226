package ai

import (
	"context"
	"fmt"
	"time"
)

// Retry runs fn up to 1+opts.MaxRetry times, sleeping IntervalForRetry
// between attempts. Terminal errors and context cancellation stop the loop
// immediately; only errors classified Retryable are retried.
func Retry(ctx context.Context, opts ConnectOptions, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.IntervalForRetry(attempt - 1)):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
	}
	return NewAPIConnectionError(fmt.Sprintf("failed after %d attempts", opts.MaxRetry+1), lastErr)
}
