package events

import "errors"

// ErrChannelClosed is returned by Next once the channel is closed and drained.
var ErrChannelClosed = errors.New("event channel is closed")
