package domain

import (
	"fmt"
	"time"
)

// ChatEntry is one line of the chat transcript. System entries are
// folded from membership presence events rather than chat events.
type ChatEntry struct {
	Seq      uint64    `json:"seq"`
	SenderID string    `json:"senderId"`
	Sender   string    `json:"sender"`
	Content  string    `json:"content"`
	System   bool      `json:"system,omitempty"`
	At       time.Time `json:"at"`
}

// FileRecord is the derived view over one FileAnnounce event.
type FileRecord struct {
	Seq         uint64    `json:"seq"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UploaderID  string    `json:"uploaderId"`
	Ref         string    `json:"ref"`
	At          time.Time `json:"at"`
}

// Stroke is the derived view over one StrokeSegment event.
type Stroke struct {
	Seq           uint64  `json:"seq"`
	ParticipantID string  `json:"participantId"`
	Points        []Point `json:"points"`
	Color         string  `json:"color"`
	Width         int     `json:"width"`
}

// PresenceEntry is one row of the presence table.
type PresenceEntry struct {
	ParticipantID string     `json:"participantId"`
	DisplayName   string     `json:"displayName"`
	State         ConnState  `json:"state"`
	Flags         MediaFlags `json:"flags"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastSeq       uint64     `json:"lastSeq"`
}

// SessionView is the set of derived views reconstructed purely by
// folding a session's event log prefix in sequence order. Two replicas
// folding the same prefix produce identical views, which is what lets
// a late joiner or reconnecting participant catch up by replay.
type SessionView struct {
	Seq      uint64                   `json:"seq"`
	Chat     []ChatEntry              `json:"chat"`
	Files    []FileRecord             `json:"files"`
	Strokes  []Stroke                 `json:"strokes"`
	Presence map[string]PresenceEntry `json:"presence"`
}

// NewSessionView returns the fold over the empty log prefix: every
// collection empty, sequence zero.
func NewSessionView() *SessionView {
	return &SessionView{
		Chat:     []ChatEntry{},
		Files:    []FileRecord{},
		Strokes:  []Stroke{},
		Presence: make(map[string]PresenceEntry),
	}
}

// ApplyResult carries non-fatal diagnostics from applying one event.
type ApplyResult struct {
	// Stale is set when a presence event carried a logical timestamp
	// older than the flags already recorded for that participant. The
	// event is applied regardless: log order is authoritative, the
	// diagnostic only surfaces clock-skew or stale-client bugs.
	Stale bool
}

// Apply folds one event into the view. Events must arrive in log order;
// an event at or below the view's current sequence is rejected. Chat
// and stroke events are last-writer-wins by sequence: the log's total
// order already serialized all writers, so the fold needs no merge
// logic beyond append.
func (v *SessionView) Apply(ev Event) (ApplyResult, error) {
	var res ApplyResult
	if ev.Seq <= v.Seq {
		return res, fmt.Errorf("event out of order: seq %d already folded (view at %d)", ev.Seq, v.Seq)
	}

	switch ev.Kind {
	case KindChat:
		p, err := ev.ParseChat()
		if err != nil {
			return res, err
		}
		v.Chat = append(v.Chat, ChatEntry{
			Seq:      ev.Seq,
			SenderID: ev.ParticipantID,
			Sender:   v.displayName(ev.ParticipantID),
			Content:  p.Content,
			At:       ev.Timestamp,
		})

	case KindFileAnnounce:
		p, err := ev.ParseFile()
		if err != nil {
			return res, err
		}
		v.Files = append(v.Files, FileRecord{
			Seq:         ev.Seq,
			Name:        p.Name,
			Size:        p.Size,
			ContentType: p.ContentType,
			UploaderID:  ev.ParticipantID,
			Ref:         p.Ref,
			At:          ev.Timestamp,
		})

	case KindStroke:
		p, err := ev.ParseStroke()
		if err != nil {
			return res, err
		}
		v.Strokes = append(v.Strokes, Stroke{
			Seq:           ev.Seq,
			ParticipantID: ev.ParticipantID,
			Points:        p.Points,
			Color:         p.Color,
			Width:         p.Width,
		})

	case KindPresence:
		p, err := ev.ParsePresence()
		if err != nil {
			return res, err
		}
		res.Stale = v.applyPresence(ev, p)

	default:
		return res, fmt.Errorf("unknown event kind %q (seq %d)", ev.Kind, ev.Seq)
	}

	v.Seq = ev.Seq
	return res, nil
}

func (v *SessionView) applyPresence(ev Event, p PresencePayload) (stale bool) {
	entry, known := v.Presence[ev.ParticipantID]
	if known && !p.At.IsZero() && p.At.Before(entry.UpdatedAt) {
		stale = true
	}
	if !known {
		entry = PresenceEntry{ParticipantID: ev.ParticipantID}
	}
	if p.DisplayName != "" {
		entry.DisplayName = p.DisplayName
	}

	switch p.Change {
	case PresenceJoined:
		entry.State = StateJoined
		entry.Flags = p.Flags
		v.systemChat(ev, fmt.Sprintf("%s joined the meeting", entry.DisplayName))
	case PresenceLeft:
		entry.State = StateLeft
		entry.Flags = MediaFlags{}
		v.systemChat(ev, fmt.Sprintf("%s left the meeting", entry.DisplayName))
	case PresenceReconnecting:
		entry.State = StateReconnecting
	case PresenceMediaUpdate, PresenceMediaUnavailable:
		entry.Flags = p.Flags
	}

	entry.UpdatedAt = p.At
	entry.LastSeq = ev.Seq
	v.Presence[ev.ParticipantID] = entry
	return stale
}

func (v *SessionView) systemChat(ev Event, content string) {
	v.Chat = append(v.Chat, ChatEntry{
		Seq:     ev.Seq,
		Sender:  "System",
		Content: content,
		System:  true,
		At:      ev.Timestamp,
	})
}

func (v *SessionView) displayName(participantID string) string {
	if entry, ok := v.Presence[participantID]; ok && entry.DisplayName != "" {
		return entry.DisplayName
	}
	return participantID
}

// Clone returns a deep copy of the view, so a snapshot can be taken
// while the coordinator keeps folding new events into the original.
func (v *SessionView) Clone() *SessionView {
	out := &SessionView{
		Seq:      v.Seq,
		Chat:     append([]ChatEntry(nil), v.Chat...),
		Files:    append([]FileRecord(nil), v.Files...),
		Strokes:  make([]Stroke, len(v.Strokes)),
		Presence: make(map[string]PresenceEntry, len(v.Presence)),
	}
	for i, s := range v.Strokes {
		s.Points = append([]Point(nil), s.Points...)
		out.Strokes[i] = s
	}
	for id, p := range v.Presence {
		out.Presence[id] = p
	}
	return out
}
