package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies the payload type carried by an Event.
type EventKind string

const (
	KindChat         EventKind = "chat"
	KindFileAnnounce EventKind = "file_announce"
	KindStroke       EventKind = "stroke"
	KindPresence     EventKind = "presence"
)

// Event is one entry of a session's append-only log. Seq is assigned by
// the session coordinator in append order, unique and gapless per
// session; Timestamp is informational only, Seq is the ordering
// authority. An Event is immutable once appended.
type Event struct {
	ID            uint      `gorm:"primaryKey"`
	SessionID     string    `gorm:"size:64;uniqueIndex:idx_session_seq;not null"`
	Seq           uint64    `gorm:"uniqueIndex:idx_session_seq;not null"`
	ParticipantID string    `gorm:"size:64;index;not null"`
	Kind          EventKind `gorm:"size:32;not null"`
	Payload       string    `gorm:"type:text;not null"`
	Timestamp     time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// ChatPayload is the payload of a KindChat event.
type ChatPayload struct {
	Content string `json:"content"`
}

// FilePayload is the payload of a KindFileAnnounce event. The core never
// transports file bytes; Ref is a content-addressed reference (hash)
// resolved by the external transfer collaborator.
type FilePayload struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Ref         string `json:"ref"`
}

// Point is one coordinate of a whiteboard stroke.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// StrokePayload is the payload of a KindStroke event.
type StrokePayload struct {
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  int     `json:"width"`
}

// PresenceChangeKind describes what a presence event announces.
type PresenceChangeKind string

const (
	PresenceJoined           PresenceChangeKind = "joined"
	PresenceLeft             PresenceChangeKind = "left"
	PresenceReconnecting     PresenceChangeKind = "reconnecting"
	PresenceMediaUpdate      PresenceChangeKind = "media"
	PresenceMediaUnavailable PresenceChangeKind = "media_unavailable"
)

// PresencePayload is the payload of a KindPresence event. At is the
// originator's logical timestamp, used only for the stale-update
// diagnostic; the log order stays authoritative.
type PresencePayload struct {
	Change      PresenceChangeKind `json:"change"`
	DisplayName string             `json:"displayName,omitempty"`
	Flags       MediaFlags         `json:"flags"`
	At          time.Time          `json:"at"`
}

// SetPayload serializes a kind-specific payload into the Payload field.
func (e *Event) SetPayload(v interface{}) error {
	bytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", e.Kind, err)
	}
	e.Payload = string(bytes)
	return nil
}

func (e *Event) decode(v interface{}) error {
	if e.Payload == "" {
		return fmt.Errorf("event payload is empty for kind %s (seq %d)", e.Kind, e.Seq)
	}
	if err := json.Unmarshal([]byte(e.Payload), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload (seq %d): %w", e.Kind, e.Seq, err)
	}
	return nil
}

// ParseChat decodes the payload of a KindChat event.
func (e *Event) ParseChat() (ChatPayload, error) {
	var p ChatPayload
	err := e.decode(&p)
	return p, err
}

// ParseFile decodes the payload of a KindFileAnnounce event.
func (e *Event) ParseFile() (FilePayload, error) {
	var p FilePayload
	err := e.decode(&p)
	return p, err
}

// ParseStroke decodes the payload of a KindStroke event.
func (e *Event) ParseStroke() (StrokePayload, error) {
	var p StrokePayload
	err := e.decode(&p)
	return p, err
}

// ParsePresence decodes the payload of a KindPresence event.
func (e *Event) ParsePresence() (PresencePayload, error) {
	var p PresencePayload
	err := e.decode(&p)
	return p, err
}
