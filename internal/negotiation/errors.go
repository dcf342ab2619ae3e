package negotiation

import "errors"

var (
	// ErrNegotiationTimeout means the offer/answer exchange (or ICE
	// completion) did not finish within the configured bounds.
	ErrNegotiationTimeout = errors.New("negotiation: timed out")
	// ErrInvalidTransition means an event arrived in a state that does
	// not accept it (e.g. an answer before any offer).
	ErrInvalidTransition = errors.New("negotiation: invalid state transition")
	// ErrUnknownHandle means no negotiation is tracked for the pair.
	ErrUnknownHandle = errors.New("negotiation: unknown handle")
)
