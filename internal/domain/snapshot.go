package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is a compacted session state at a given log position,
// used to bound catch-up cost for lagging or late-joining participants
// and to trim the commit store. BaseSeq marks the compaction point:
// the state is the fold of all events with Seq <= BaseSeq.
type Snapshot struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:64;index;not null"`
	BaseSeq   uint64    `gorm:"not null"`
	State     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// SetState serializes a derived view into the State field.
func (s *Snapshot) SetState(view *SessionView) error {
	bytes, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot state: %w", err)
	}
	s.State = string(bytes)
	return nil
}

// ParseState deserializes the State field back into a derived view.
func (s *Snapshot) ParseState() (*SessionView, error) {
	view := NewSessionView()
	if s.State == "" {
		return view, nil
	}
	if err := json.Unmarshal([]byte(s.State), view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot state (session %s, base seq %d): %w", s.SessionID, s.BaseSeq, err)
	}
	return view, nil
}
