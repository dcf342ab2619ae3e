package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/repository"
	"meeting-sync/internal/tasks"
)

// EventPersistHandler archives committed events to the relational
// store. The commit store already holds the event, so a failed
// archive retries without affecting acknowledged clients.
type EventPersistHandler struct {
	eventRepo repository.EventRepository
}

func NewEventPersistHandler(eventRepo repository.EventRepository) *EventPersistHandler {
	return &EventPersistHandler{eventRepo: eventRepo}
}

// ProcessTask implements asynq.Handler.
func (h *EventPersistHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retryCount, _ := asynq.GetRetryCount(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retryCount,
	})

	var payload tasks.EventPersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	batch := []domain.Event{payload.Event}
	if err := h.eventRepo.SaveBatch(ctx, batch); err != nil {
		logCtx.WithError(err).Errorf("Failed to archive event seq %d for session %s", payload.Event.Seq, payload.Event.SessionID)
		return fmt.Errorf("failed to archive event seq %d: %w", payload.Event.Seq, err)
	}

	logCtx.WithFields(logrus.Fields{
		"session_id": payload.Event.SessionID,
		"seq":        payload.Event.Seq,
	}).Debug("Event archived")
	return nil
}
