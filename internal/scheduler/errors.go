package scheduler

import "errors"

// Errors returned by the scheduler.
var (
	// ErrLoopClosed is returned when the event loop has been closed.
	ErrLoopClosed = errors.New("event loop is closed")

	// ErrTokenInUse is returned when a token is already bound to an active run.
	ErrTokenInUse = errors.New("resumption token already in use")

	// ErrCallInProgress is returned when a gateway call is dispatched while
	// another gateway call is still running on the loop.
	ErrCallInProgress = errors.New("another gateway call is running")

	// ErrCanceled is returned when a gateway call is cancelled before it started.
	ErrCanceled = errors.New("gateway call cancelled before start")

	// ErrClosureFailed wraps a panic recovered from a gateway closure.
	ErrClosureFailed = errors.New("gateway closure failed")
)
