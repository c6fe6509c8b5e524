package replay

import "errors"

var (
	// ErrWriterClosed is returned when appending to a writer after Close.
	ErrWriterClosed = errors.New("replay writer closed")
	// ErrNoSession is returned when recording for a match that was never started.
	ErrNoSession = errors.New("replay session not started")
)
