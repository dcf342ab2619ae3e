// Package registry tracks session membership and connection state. A
// Registry is owned by exactly one session coordinator and accessed
// only from its serialization point, so it carries no locking.
package registry

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"meeting-sync/internal/domain"
)

var (
	// ErrDuplicateParticipant means the id is already joined and still
	// connected.
	ErrDuplicateParticipant = errors.New("registry: participant already joined")
	// ErrUnknownParticipant means no record exists for the id.
	ErrUnknownParticipant = errors.New("registry: participant not found")
)

// Registry holds one session's participant records. Records of
// participants who left are retained for the reconnect grace period
// before eviction, so a dropped connection can resume as the same
// participant.
type Registry struct {
	grace        time.Duration
	participants map[string]*domain.Participant
	emptySince   time.Time
	log          *logrus.Entry
}

// New creates a registry with the given reconnect grace period.
func New(sessionID string, grace time.Duration) *Registry {
	return &Registry{
		grace:        grace,
		participants: make(map[string]*domain.Participant),
		emptySince:   time.Now(),
		log:          logrus.WithFields(logrus.Fields{"component": "registry", "session_id": sessionID}),
	}
}

// Join adds a participant, or resumes the retained record of one who
// disconnected within the grace period. A second join for an id that
// is still connected fails with ErrDuplicateParticipant.
func (r *Registry) Join(id, displayName string) (*domain.Participant, error) {
	now := time.Now()
	if p, ok := r.participants[id]; ok {
		switch p.State {
		case domain.StateJoined, domain.StateConnecting:
			return nil, ErrDuplicateParticipant
		default:
			// Reconnection inside the grace period: same record, flags
			// reset by the presence event the coordinator emits.
			p.State = domain.StateJoined
			p.LastSeen = now
			if displayName != "" {
				p.DisplayName = displayName
			}
			r.log.WithField("participant_id", id).Info("Participant reconnected")
			return p, nil
		}
	}
	p := &domain.Participant{
		ID:          id,
		DisplayName: displayName,
		State:       domain.StateJoined,
		JoinedAt:    now,
		LastSeen:    now,
	}
	r.participants[id] = p
	r.emptySince = time.Time{}
	r.log.WithField("participant_id", id).Info("Participant joined")
	return p, nil
}

// Leave marks the participant Left. The record is retained until a
// later Sweep evicts it, to tolerate reconnection.
func (r *Registry) Leave(id string) (*domain.Participant, error) {
	p, ok := r.participants[id]
	if !ok {
		return nil, ErrUnknownParticipant
	}
	p.State = domain.StateLeft
	p.LastSeen = time.Now()
	r.noteIfEmpty()
	return p, nil
}

// MarkReconnecting records a dropped connection that may resume within
// the grace period.
func (r *Registry) MarkReconnecting(id string) (*domain.Participant, error) {
	p, ok := r.participants[id]
	if !ok {
		return nil, ErrUnknownParticipant
	}
	if p.State == domain.StateJoined || p.State == domain.StateConnecting {
		p.State = domain.StateReconnecting
		p.LastSeen = time.Now()
	}
	r.noteIfEmpty()
	return p, nil
}

// UpdatePresence replaces the participant's media flags. The registry
// never mutates flags silently: callers go through the coordinator,
// which makes every change observable via a PresenceChange log event.
func (r *Registry) UpdatePresence(id string, flags domain.MediaFlags) (*domain.Participant, error) {
	p, ok := r.participants[id]
	if !ok {
		return nil, ErrUnknownParticipant
	}
	p.Flags = flags
	p.LastSeen = time.Now()
	return p, nil
}

// Drop removes a record outright. Used by the coordinator to undo a
// fresh Join whose announcement could not be appended to the log.
func (r *Registry) Drop(id string) {
	delete(r.participants, id)
	r.noteIfEmpty()
}

// Restore returns a resumed record to its prior connection state. Used
// by the coordinator when a rejoin's announcement could not be
// appended: the retained record keeps its grace window instead of
// being dropped.
func (r *Registry) Restore(id string, state domain.ConnState) {
	p, ok := r.participants[id]
	if !ok {
		return
	}
	p.State = state
	r.noteIfEmpty()
}

// Get returns the record for id, if any.
func (r *Registry) Get(id string) (*domain.Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

// IsJoined reports whether id is currently a Joined member.
func (r *Registry) IsJoined(id string) bool {
	p, ok := r.participants[id]
	return ok && p.State == domain.StateJoined
}

// Members returns all retained records, including Left ones awaiting
// eviction.
func (r *Registry) Members() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Touch refreshes the participant's last-seen timestamp.
func (r *Registry) Touch(id string) {
	if p, ok := r.participants[id]; ok {
		p.LastSeen = time.Now()
	}
}

// Sweep evicts records that have been Left or Reconnecting beyond the
// grace period and returns the evicted records as they were before
// eviction (so the caller can tell an expired reconnect from a plain
// leave). The second return reports whether the session has had zero
// connected members for longer than the grace period, which makes it
// eligible for destruction.
func (r *Registry) Sweep(now time.Time) (evicted []*domain.Participant, expired bool) {
	for id, p := range r.participants {
		if p.State != domain.StateLeft && p.State != domain.StateReconnecting {
			continue
		}
		if now.Sub(p.LastSeen) >= r.grace {
			delete(r.participants, id)
			evicted = append(evicted, p)
			r.log.WithField("participant_id", id).Info("Participant record evicted after grace period")
		}
	}
	r.noteIfEmpty()
	expired = len(r.participants) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) >= r.grace
	return evicted, expired
}

func (r *Registry) noteIfEmpty() {
	for _, p := range r.participants {
		if p.State == domain.StateJoined || p.State == domain.StateConnecting {
			r.emptySince = time.Time{}
			return
		}
	}
	if r.emptySince.IsZero() {
		r.emptySince = time.Now()
	}
}
