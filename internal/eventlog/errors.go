package eventlog

import "errors"

var (
	// ErrLogWriteFailure means the commit store rejected an append. The
	// sequence counter has been rolled back; no event was acknowledged.
	ErrLogWriteFailure = errors.New("eventlog: log write failure")
)
