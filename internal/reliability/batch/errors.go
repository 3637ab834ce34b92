package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrItemAbandoned marks items still pending, or never started, when the batch deadline elapsed.
	ErrItemAbandoned = errors.New("item abandoned: batch deadline elapsed")

	// ErrBatchDeadline is the cancellation cause handed to item handlers at the deadline.
	ErrBatchDeadline = errors.New("batch deadline elapsed")
)

// PanicError is a handler panic converted into an item failure.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
