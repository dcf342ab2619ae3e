package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"meeting-sync/internal/domain"
)

// Task type constants.
const (
	// TypeEventPersist archives one committed event to the database.
	TypeEventPersist = "event:persist"
	// TypeSnapshotCheck is the periodic compaction sweep over the
	// active sessions.
	TypeSnapshotCheck = "snapshot:periodic_check"
)

// EventPersistPayload carries the committed event to the archive
// worker.
type EventPersistPayload struct {
	Event domain.Event
}

// NewEventPersistTask builds the archival task for a committed event.
func NewEventPersistTask(ev domain.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(EventPersistPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEventPersist, payload, asynq.Queue("critical"), asynq.MaxRetry(5)), nil
}

// NewSnapshotCheckTask builds the periodic snapshot check task. It
// carries no payload; the handler enumerates the active sessions.
func NewSnapshotCheckTask() *asynq.Task {
	return asynq.NewTask(TypeSnapshotCheck, nil, asynq.Queue("low"), asynq.MaxRetry(0))
}
