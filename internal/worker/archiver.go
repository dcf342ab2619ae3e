package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"meeting-sync/internal/domain"
	"meeting-sync/internal/tasks"
)

// TaskArchiver implements eventlog.Archiver by enqueueing an archival
// task per committed event. Enqueue failures are reported but never
// reject the append; the commit store already holds the event.
type TaskArchiver struct {
	client *asynq.Client
}

func NewTaskArchiver(client *asynq.Client) *TaskArchiver {
	if client == nil {
		panic("asynq client cannot be nil for TaskArchiver")
	}
	return &TaskArchiver{client: client}
}

func (a *TaskArchiver) Archive(ctx context.Context, ev domain.Event) error {
	task, err := tasks.NewEventPersistTask(ev)
	if err != nil {
		return fmt.Errorf("worker: failed to build persist task for seq %d: %w", ev.Seq, err)
	}
	if _, err := a.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("worker: failed to enqueue persist task for seq %d: %w", ev.Seq, err)
	}
	return nil
}
