package transport

import "errors"

// Transport errors.
var (
	// ErrUnknownOp indicates a request named an operation the server does
	// not implement.
	ErrUnknownOp = errors.New("unknown operation")

	// ErrBadRequest indicates a request payload could not be decoded.
	ErrBadRequest = errors.New("bad request")

	// ErrAttached indicates another client already holds the session.
	ErrAttached = errors.New("session already attached")
)
