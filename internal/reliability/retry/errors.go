package retry

import (
	"errors"
	"fmt"
	"time"
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks err as retryable: timeouts, throttling, temporary unavailability.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent marks err as non-retryable: malformed input, authorization, not-found.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether err carries an explicit transient marker.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err carries an explicit permanent marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// HandlerError is an application level failure raised by business logic.
// It is permanent unless Retryable is set.
type HandlerError struct {
	Err       error
	Retryable bool
}

// NewHandlerError wraps err as a non-retryable handler failure.
func NewHandlerError(err error) *HandlerError {
	return &HandlerError{Err: err}
}

// RetryableHandlerError wraps err as a handler failure worth retrying.
func RetryableHandlerError(err error) *HandlerError {
	return &HandlerError{Err: err, Retryable: true}
}

func (e *HandlerError) Error() string {
	if e.Err == nil {
		return "handler error"
	}
	return "handler error: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ExhaustedError is returned once the executor gives up on an operation.
type ExhaustedError struct {
	Op       string
	Attempts int
	Elapsed  time.Duration
	Class    ErrorClass
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf(
		"%s: exhausted after %d attempts over %s: %v",
		e.Op,
		e.Attempts,
		e.Elapsed.Round(time.Millisecond),
		e.Err,
	)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Exhausted reports whether err is the terminal error of a retry run.
func Exhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
