package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"meeting-sync/internal/coordinator"
	"meeting-sync/internal/repository"
	"meeting-sync/internal/service"
	"meeting-sync/internal/tasks"
)

// WorkerServer wraps the asynq server and scheduler: event archival
// on the critical queue, periodic snapshot sweeps on the low queue.
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	log       *logrus.Entry

	eventRepo       repository.EventRepository
	coord           *coordinator.Coordinator
	snapshotService *service.SnapshotService
}

func NewWorkerServer(
	redisOpt asynq.RedisClientOpt,
	eventRepo repository.EventRepository,
	coord *coordinator.Coordinator,
	snapshotService *service.SnapshotService,
	logger *logrus.Logger,
) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	return &WorkerServer{
		server:          server,
		scheduler:       scheduler,
		log:             logEntry,
		eventRepo:       eventRepo,
		coord:           coord,
		snapshotService: snapshotService,
	}
}

// Start runs the worker server and the scheduler. It blocks until
// Shutdown; call it from its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	eventPersistHandler := NewEventPersistHandler(ws.eventRepo)
	mux.HandleFunc(tasks.TypeEventPersist, eventPersistHandler.ProcessTask)

	snapshotCheckHandler := NewSnapshotCheckHandler(ws.coord, ws.snapshotService)
	mux.HandleFunc(tasks.TypeSnapshotCheck, snapshotCheckHandler.ProcessTask)

	if _, err := ws.scheduler.Register("@every 1m", tasks.NewSnapshotCheckTask()); err != nil {
		ws.log.Fatalf("Could not register snapshot check schedule: %v", err)
	}
	go func() {
		if err := ws.scheduler.Run(); err != nil {
			ws.log.Errorf("Scheduler stopped: %v", err)
		}
	}()

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		}
		ws.log.Info("Worker server stopped.")
	}
}

// Shutdown gracefully stops the scheduler and the worker server.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.scheduler.Shutdown()
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
