package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/coordinator"
	"meeting-sync/internal/service"
)

// SnapshotCheckHandler runs the periodic compaction sweep: every
// active session is checked against the adaptive snapshot interval
// and compacted when due.
type SnapshotCheckHandler struct {
	coord           *coordinator.Coordinator
	snapshotService *service.SnapshotService
}

func NewSnapshotCheckHandler(coord *coordinator.Coordinator, snapshotService *service.SnapshotService) *SnapshotCheckHandler {
	if coord == nil {
		panic("Coordinator cannot be nil for SnapshotCheckHandler")
	}
	if snapshotService == nil {
		panic("SnapshotService cannot be nil for SnapshotCheckHandler")
	}
	return &SnapshotCheckHandler{
		coord:           coord,
		snapshotService: snapshotService,
	}
}

// ProcessTask implements asynq.Handler. Per-session failures are
// logged, not propagated; one broken session must not starve the rest
// of the sweep.
func (h *SnapshotCheckHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	sessionIDs := h.coord.ActiveSessionIDs()
	if len(sessionIDs) == 0 {
		logCtx.Debug("No active sessions, skipping snapshot check")
		return nil
	}
	logCtx.Debugf("Checking %d active sessions for compaction", len(sessionIDs))

	var wg sync.WaitGroup
	for _, sessionID := range sessionIDs {
		sess, ok := h.coord.Get(sessionID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(sess *coordinator.Session) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := h.snapshotService.CheckAndCompact(checkCtx, sess); err != nil {
				logCtx.WithField("session_id", sess.ID()).WithError(err).Error("Snapshot check failed for session")
			}
		}(sess)
	}
	wg.Wait()

	return nil
}
