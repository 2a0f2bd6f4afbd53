package session

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("session closed")

	// ErrNotAwaitingInput indicates SendLine was called while nothing reads
	// client input.
	ErrNotAwaitingInput = errors.New("not awaiting input")

	// ErrInterrupted indicates a child process was killed by an interrupt.
	ErrInterrupted = errors.New("interrupted")

	// ErrInputUnavailable indicates a script asked for input while the host
	// evaluates silently.
	ErrInputUnavailable = errors.New("input unavailable during silent evaluation")
)

// InitError reports a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("session: initializing %s: %v", e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitError) Unwrap() error {
	return e.Err
}
