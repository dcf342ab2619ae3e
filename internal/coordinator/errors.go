package coordinator

import "errors"

var (
	// ErrNotAMember means the submitting participant is not Joined in
	// the session. Surfaced synchronously; no log entry is produced.
	ErrNotAMember = errors.New("coordinator: participant is not a member")
	// ErrPayloadTooLarge means a chat/stroke/file payload exceeded the
	// configured bound.
	ErrPayloadTooLarge = errors.New("coordinator: payload too large")
	// ErrSessionClosed means the session actor has shut down (empty
	// membership past the grace period, or server shutdown).
	ErrSessionClosed = errors.New("coordinator: session closed")
	// ErrUnknownEventKind means a submit named a kind the log does not
	// accept from clients.
	ErrUnknownEventKind = errors.New("coordinator: unknown event kind")
)
