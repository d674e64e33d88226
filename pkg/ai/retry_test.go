package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestRetry(t *testing.T) {
	opts := ConnectOptions{MaxRetry: 3, RetryInterval: 0}

	t.Run("retryable error retried until success", func(t *testing.T) {
		is := is.New(t)

		attempts := 0
		err := Retry(context.Background(), opts, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return NewRetryableAPIError("transient", nil)
			}
			return nil
		})
		is.NoErr(err)
		is.Equal(attempts, 3)
	})

	t.Run("terminal error stops immediately", func(t *testing.T) {
		is := is.New(t)

		terminal := NewAPIError("bad request", nil)
		attempts := 0
		err := Retry(context.Background(), opts, func(ctx context.Context) error {
			attempts++
			return terminal
		})
		is.Equal(attempts, 1)
		is.True(errors.Is(err, terminal))
	})

	t.Run("exhausted retries wrap the last error", func(t *testing.T) {
		is := is.New(t)

		attempts := 0
		err := Retry(context.Background(), opts, func(ctx context.Context) error {
			attempts++
			return NewAPIStatusError("overloaded", 503, nil)
		})
		is.Equal(attempts, 4) // initial try + MaxRetry

		var connErr *APIConnectionError
		is.True(errors.As(err, &connErr))
	})

	t.Run("cancelled context stops the loop", func(t *testing.T) {
		is := is.New(t)

		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := Retry(ctx, opts, func(ctx context.Context) error {
			attempts++
			cancel()
			return NewRetryableAPIError("transient", nil)
		})
		is.Equal(attempts, 1)
		is.True(errors.Is(err, context.Canceled))
	})
}

func TestStatusErrorClassification(t *testing.T) {
	is := is.New(t)

	is.True(Retryable(NewAPIStatusError("rate limited", 429, nil)))
	is.True(Retryable(NewAPIStatusError("upstream", 502, nil)))
	is.True(!Retryable(NewAPIStatusError("unauthorized", 401, nil)))
	is.True(Retryable(NewAPITimeoutError("deadline")))
	is.True(!Retryable(errors.New("unclassified")))
}
