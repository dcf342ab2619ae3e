package coordinator

import (
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/domain"
)

// Resolver applies log events to a session's derived views. Since the
// log total order already serializes all writers, resolution for chat
// and stroke events is last-writer-wins by sequence with no extra
// merge step. Presence events older than the recorded flags raise a
// stale-update diagnostic without being discarded; the log order, not
// the diagnostic, is authoritative.
type Resolver struct {
	log *logrus.Entry
}

// NewResolver creates a resolver logging diagnostics for one session.
func NewResolver(sessionID string) *Resolver {
	return &Resolver{
		log: logrus.WithFields(logrus.Fields{"component": "resolver", "session_id": sessionID}),
	}
}

// Apply folds ev into view, surfacing the stale-update diagnostic to
// operators through the log.
func (r *Resolver) Apply(view *domain.SessionView, ev domain.Event) error {
	res, err := view.Apply(ev)
	if err != nil {
		return err
	}
	if res.Stale {
		r.log.WithFields(logrus.Fields{
			"seq":            ev.Seq,
			"participant_id": ev.ParticipantID,
		}).Warn("Stale presence update applied (clock skew or stale client)")
	}
	return nil
}
