package courier

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExecuted is returned when Execute or Enqueue is invoked a
	// second time on the same Call.
	ErrAlreadyExecuted = errors.New("call already executed")

	// ErrCanceled is the distinguished failure surfaced when cancellation
	// interrupts an in-flight chain.
	ErrCanceled = errors.New("call canceled")

	// ErrExecutorRejected wraps a worker-pool rejection, delivered through
	// the async call's failure callback.
	ErrExecutorRejected = errors.New("executor rejected call")

	// ErrTooManyFollowUps is returned when the retry stage exhausts its
	// follow-up budget.
	ErrTooManyFollowUps = errors.New("too many follow-up requests")

	// ErrUnexpectedStatusCode is the sentinel error wrapped by
	// [UnexpectedStatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")

	// ErrAuthFailure is joined with [ErrUnexpectedStatusCode] when the
	// server responds with 401 Unauthorized.
	ErrAuthFailure = errors.New("auth failure")
)

// errAbandoned records a call whose chain unwound without reporting an
// outcome, which only happens when an interceptor panics.
var errAbandoned = errors.New("call abandoned")

// joinRejection wraps a worker-pool error so callers can match both
// ErrExecutorRejected and the underlying cause.
func joinRejection(err error) error {
	return fmt.Errorf("%w: %w", ErrExecutorRejected, err)
}

// UnexpectedStatusError is returned by [Client.Do] when the response
// status code does not match the expected value.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}
