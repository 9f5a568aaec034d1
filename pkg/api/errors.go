package api

import "errors"

var (
	// ErrInstanceNotFound is returned when a workflow instance does not exist.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceExists is returned when starting an instance with an id
	// that is already in use.
	ErrInstanceExists = errors.New("workflow instance already exists")

	// ErrInstanceFinished is returned when signalling an instance that has
	// already completed or failed.
	ErrInstanceFinished = errors.New("workflow instance already finished")

	// ErrConflict is returned by compare-and-swap when another writer
	// updated the instance first.
	ErrConflict = errors.New("workflow instance version conflict")
)

// RetryableError marks an activity failure that may succeed on a later
// attempt: network errors, timeouts, 5xx responses.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks an activity failure that will never succeed on retry:
// malformed requests, 4xx responses. The invoker aborts immediately and the
// instance transitions to FAILED.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// NewRetryable wraps err as a RetryableError. A nil err returns nil.
func NewRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// NewFatal wraps err as a FatalError. A nil err returns nil.
func NewFatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}
