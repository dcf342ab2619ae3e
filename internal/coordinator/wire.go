package coordinator

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"

	"meeting-sync/internal/domain"
)

// Client message types carried over the signaling channel.
const (
	ClientSubmit      = "submit"
	ClientPresence    = "presence"
	ClientOffer       = "offer"
	ClientAnswer      = "answer"
	ClientICEComplete = "ice_complete"
	ClientCatchup     = "catchup"
	ClientLeave       = "leave"
)

// Server message types.
const (
	ServerEvent    = "event"
	ServerSnapshot = "snapshot"
	ServerAck      = "ack"
	ServerError    = "error"
	ServerDegraded = "degraded"
	ServerOffer    = "offer"
	ServerAnswer   = "answer"
)

// ClientMessage is one inbound frame from a participant's signaling
// channel. The transport guarantees ordering per participant; the
// coordinator serializes across participants.
type ClientMessage struct {
	Type string `json:"type"`

	// Submit fields.
	Kind    domain.EventKind `json:"kind,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`

	// Presence fields.
	Flags *domain.MediaFlags `json:"flags,omitempty"`

	// Negotiation fields. Peer is the other side of the pair: the
	// target for offers and ice_complete, the initiator for answers.
	Peer string                     `json:"peer,omitempty"`
	SDP  *webrtc.SessionDescription `json:"sdp,omitempty"`

	// Catchup field: last sequence the client has applied.
	From uint64 `json:"from,omitempty"`
}

// EventRecord is the wire form of one log event.
type EventRecord struct {
	Seq           uint64           `json:"seq"`
	Kind          domain.EventKind `json:"kind"`
	ParticipantID string           `json:"participantId"`
	Payload       json.RawMessage  `json:"payload"`
	Timestamp     time.Time        `json:"timestamp"`
}

// ServerMessage is one outbound frame. Exactly the fields for Type are
// set; clients deduplicate deltas by Event.Seq (the transport is
// at-least-once).
type ServerMessage struct {
	Type string `json:"type"`

	// ServerEvent.
	Event *EventRecord `json:"event,omitempty"`

	// ServerSnapshot: compacted state at BaseSeq plus the suffix of
	// records appended after it.
	BaseSeq uint64              `json:"baseSeq,omitempty"`
	State   *domain.SessionView `json:"state,omitempty"`
	Events  []EventRecord       `json:"events,omitempty"`

	// ServerAck.
	Seq uint64 `json:"seq,omitempty"`

	// Negotiation relay.
	Peer string                     `json:"peer,omitempty"`
	SDP  *webrtc.SessionDescription `json:"sdp,omitempty"`

	// ServerError.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func recordOf(ev domain.Event) EventRecord {
	return EventRecord{
		Seq:           ev.Seq,
		Kind:          ev.Kind,
		ParticipantID: ev.ParticipantID,
		Payload:       json.RawMessage(ev.Payload),
		Timestamp:     ev.Timestamp,
	}
}
