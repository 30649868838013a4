package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/document-converter/internal/service/jobs"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
)

type ConversionWorker struct {
	BaseWorker
	jobs jobs.JobService
}

func NewConversionWorker(cfg *Config, jobService jobs.JobService, log logger.Logger) (*ConversionWorker, error) {
	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		Logger:      &asynqLogger{log: log.Named("asynq")},
	})

	w := &ConversionWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: log,
		},
		jobs: jobService,
	}

	if cfg.CleanupSpec != "" {
		w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{
			Logger: &asynqLogger{log: log.Named("scheduler")},
		})
		if _, err := w.scheduler.Register(cfg.CleanupSpec, asynq.NewTask(queue.TaskTypeCleanup, nil, asynq.MaxRetry(0))); err != nil {
			return nil, fmt.Errorf("failed to register cleanup: %w", err)
		}
	}

	w.registerHandlers()
	return w, nil
}

func (w *ConversionWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeConversion, w.handleConversion)
	w.mux.HandleFunc(queue.TaskTypeCleanup, w.handleCleanup)
}

func (w *ConversionWorker) handleConversion(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %v: %w", err, asynq.SkipRetry)
	}

	if task.ID == "" || task.InputKey == "" {
		w.logger.Error("Invalid task data", logger.String("taskId", task.ID))
		return fmt.Errorf("invalid task data: missing required fields: %w", asynq.SkipRetry)
	}

	w.logger.Info("Processing conversion task",
		logger.String("taskId", task.ID),
		logger.String("filename", task.Filename),
		logger.String("format", string(task.Options.OutputFormat)),
	)

	w.writeResult(t, map[string]string{"status": "running"})

	if err := w.jobs.HandleConversion(ctx, &task); err != nil {
		w.writeResult(t, map[string]string{"status": "failed", "error": err.Error()})
		// The job record carries the failure; the user resubmits.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	w.writeResult(t, map[string]string{"status": "completed"})
	return nil
}

func (w *ConversionWorker) handleCleanup(ctx context.Context, _ *asynq.Task) error {
	removed, err := w.jobs.CleanupJobs(ctx)
	if err != nil {
		w.logger.Error("Job cleanup failed", logger.Error(err))
		return err
	}
	w.logger.Debug("Job cleanup finished", logger.Int("removed", removed))
	return nil
}

// writeResult records progress on the asynq task. Tasks built outside a
// server have no result writer.
func (w *ConversionWorker) writeResult(t *asynq.Task, v map[string]string) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		w.logger.Error("Failed to write task status", logger.Error(err))
	}
}

func (w *ConversionWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		_ = w.Stop()
	}()

	return nil
}
