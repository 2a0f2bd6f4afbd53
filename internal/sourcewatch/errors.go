package sourcewatch

import "errors"

// Errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrNotWatching   = errors.New("file is not being watched")
	ErrPathNotExist  = errors.New("path does not exist")
	ErrIsDirectory   = errors.New("path is a directory")
)
