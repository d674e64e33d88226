// Package ai provides the error taxonomy and connection options shared by
// every provider contract (STT, TTS, LLM, VAD).
package ai

import (
	"errors"
	"fmt"
	"time"
)

// APIError is the base error for provider failures. Retryable errors are
// transient (network timeout, 429, 5xx, mid-stream disconnect); everything
// else is terminal and fails the current turn immediately.
type APIError struct {
	Message   string
	Retryable bool
	Cause     error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Cause }

// NewAPIError creates a terminal provider error.
func NewAPIError(message string, cause error) *APIError {
	return &APIError{Message: message, Cause: cause}
}

// NewRetryableAPIError creates a transient provider error.
func NewRetryableAPIError(message string, cause error) *APIError {
	return &APIError{Message: message, Retryable: true, Cause: cause}
}

// APIStatusError is an APIError carrying an HTTP status code. 429 and 5xx
// are retryable, other 4xx are terminal.
type APIStatusError struct {
	APIError
	StatusCode int
}

// NewAPIStatusError classifies an HTTP status into the retry taxonomy.
func NewAPIStatusError(message string, statusCode int, cause error) *APIStatusError {
	return &APIStatusError{
		APIError: APIError{
			Message:   fmt.Sprintf("%s (status %d)", message, statusCode),
			Retryable: statusCode == 429 || statusCode >= 500,
			Cause:     cause,
		},
		StatusCode: statusCode,
	}
}

// APITimeoutError marks an operation that exceeded its ConnectOptions
// timeout. Always retryable.
type APITimeoutError struct{ APIError }

func NewAPITimeoutError(message string) *APITimeoutError {
	return &APITimeoutError{APIError{Message: message, Retryable: true}}
}

// APIConnectionError wraps the final failure after all retries were
// exhausted, or an unreachable endpoint.
type APIConnectionError struct{ APIError }

func NewAPIConnectionError(message string, cause error) *APIConnectionError {
	return &APIConnectionError{APIError{Message: message, Cause: cause}}
}

func (e *APIError) isRetryable() bool { return e.Retryable }

// Retryable reports whether the error is a transient provider failure worth
// retrying. Unknown errors are treated as terminal.
func Retryable(err error) bool {
	var r interface{ isRetryable() bool }
	if errors.As(err, &r) {
		return r.isRetryable()
	}
	return false
}

// ConnectOptions bounds retries and timeouts for provider streams.
type ConnectOptions struct {
	MaxRetry      int
	RetryInterval time.Duration
	Timeout       time.Duration
}

// DefaultConnectOptions matches the defaults used by all provider streams
// unless the caller overrides them.
var DefaultConnectOptions = ConnectOptions{
	MaxRetry:      3,
	RetryInterval: 2 * time.Second,
	Timeout:       10 * time.Second,
}

// RetryInterval returns the wait before the given attempt. The first retry
// is fast; subsequent retries use the configured interval.
func (o ConnectOptions) IntervalForRetry(attempt int) time.Duration {
	if attempt == 0 {
		return 100 * time.Millisecond
	}
	return o.RetryInterval
}
