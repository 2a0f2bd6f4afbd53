package debugger

import "errors"

// Errors returned by the breakpoint registry.
var (
	// ErrInvalidBreakpoint is returned for a non-positive ID or invalid position.
	ErrInvalidBreakpoint = errors.New("invalid breakpoint")

	// ErrBreakpointNotFound is returned when no breakpoint has the given ID.
	ErrBreakpointNotFound = errors.New("breakpoint not found")

	// ErrMasterCycle is returned when a master assignment would create a cycle.
	ErrMasterCycle = errors.New("breakpoint master would create a cycle")

	// ErrPersistPathNotSet is returned by Save and Load without a path.
	ErrPersistPathNotSet = errors.New("breakpoint persist path not set")
)
