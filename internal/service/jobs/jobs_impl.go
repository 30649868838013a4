package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/service/conversion"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
	"github.com/feichai0017/document-converter/pkg/storage"
)

type Service struct {
	converter conversion.Converter
	queue     queue.Queue
	storage   storage.Storage
	logger    logger.Logger
	config    *ServiceConfig
	now       func() time.Time
}

type ServiceConfig struct {
	RetentionPeriod time.Duration
}

func NewService(
	converter conversion.Converter,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	config *ServiceConfig,
) *Service {
	if config == nil {
		config = &ServiceConfig{RetentionPeriod: 24 * time.Hour}
	}
	return &Service{
		converter: converter,
		queue:     q,
		storage:   store,
		logger:    log,
		config:    config,
		now:       time.Now,
	}
}

// GetService wires the job service from environment configuration.
func GetService(converter conversion.Converter, log logger.Logger) (*Service, error) {
	store, err := storage.NewStorage(storage.StorageType(cfg.GetStorageType()), log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	q, err := queue.GetQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	return NewService(converter, q, store, log, &ServiceConfig{
		RetentionPeriod: cfg.GetQueueConfig().RetentionPeriod,
	}), nil
}

func (s *Service) Submit(ctx context.Context, doc *models.UploadedDocument, opts models.ConversionOptions) (*models.ConversionJob, error) {
	jobID := uuid.New().String()
	log := logger.FromContext(logger.ContextWithJobID(ctx, jobID), s.logger)

	key := storage.InputKey(jobID, string(doc.Extension))
	if _, err := s.storage.Store(ctx, bytes.NewReader(doc.Content), key, doc.Size, doc.MimeType); err != nil {
		log.Error("Failed to store upload", logger.Error(err))
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	now := s.now()
	job := &models.ConversionJob{
		ID:        jobID,
		Status:    models.JobPending,
		Filename:  doc.Filename,
		Size:      doc.Size,
		Options:   opts,
		InputKey:  key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.queue.SaveJob(ctx, job); err != nil {
		s.discard(ctx, key)
		return nil, err
	}

	task := &queue.Task{
		ID:        jobID,
		Type:      queue.TaskTypeConversion,
		InputKey:  key,
		Filename:  doc.Filename,
		Size:      doc.Size,
		Options:   opts,
		CreatedAt: now,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		log.Error("Failed to enqueue job", logger.Error(err))
		s.discard(ctx, key)
		if delErr := s.queue.DeleteJob(ctx, jobID); delErr != nil {
			log.Error("Failed to delete job", logger.Error(delErr))
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info("Conversion job submitted",
		logger.String("filename", doc.Filename),
		logger.Int64("size", doc.Size),
	)
	return job, nil
}

func (s *Service) GetStatus(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	return s.queue.GetJob(ctx, jobID)
}

// HandleConversion is the worker side of a job: it loads the upload, runs
// the workflow and stores the rendered result.
func (s *Service) HandleConversion(ctx context.Context, task *queue.Task) error {
	ctx = logger.ContextWithJobID(ctx, task.ID)
	log := logger.FromContext(ctx, s.logger)

	job, err := s.queue.GetJob(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Terminal() {
		log.Info("Skipping finished job", logger.String("status", string(job.Status)))
		return nil
	}

	if !s.update(ctx, job, func(j *models.ConversionJob) { j.Status = models.JobRunning }) {
		return nil
	}

	data, err := s.readInput(ctx, task.InputKey)
	if err != nil {
		s.fail(ctx, job, err)
		return err
	}

	doc, err := s.converter.HandleUpload(task.Filename, data)
	if err != nil {
		s.fail(ctx, job, err)
		return err
	}

	result, err := s.converter.Convert(ctx, doc, task.Options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.update(ctx, job, func(j *models.ConversionJob) { j.Status = models.JobCancelled })
			return err
		}
		s.fail(ctx, job, err)
		return err
	}

	key := storage.ResultKey(job.ID, result.DownloadName)
	if _, err := s.storage.Store(ctx, bytes.NewReader([]byte(result.Content)), key, int64(len(result.Content)), result.MimeType); err != nil {
		s.fail(ctx, job, err)
		return err
	}

	completed := s.update(ctx, job, func(j *models.ConversionJob) {
		j.Status = models.JobCompleted
		j.ResultKey = key
		j.DownloadName = result.DownloadName
		j.Images = result.Images
		j.Warnings = result.Warnings
	})
	s.discard(ctx, task.InputKey)
	if !completed {
		s.discard(ctx, key)
		return nil
	}

	log.Info("Conversion job completed",
		logger.String("resultKey", key),
		logger.Duration("duration", result.Duration),
	)
	return nil
}

func (s *Service) GetResult(ctx context.Context, jobID string) (io.ReadCloser, *models.ConversionJob, error) {
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != models.JobCompleted {
		return nil, job, ErrJobNotReady
	}

	rc, err := s.storage.Get(ctx, job.ResultKey)
	if err != nil {
		return nil, job, fmt.Errorf("failed to read result: %w", err)
	}
	return rc, job, nil
}

func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return ErrJobNotCancellable
	}

	if err := s.queue.Cancel(ctx, jobID); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
		return err
	}
	if !s.update(ctx, job, func(j *models.ConversionJob) { j.Status = models.JobCancelled }) {
		return ErrJobNotCancellable
	}
	s.discard(ctx, job.InputKey)

	s.logger.Info("Conversion job cancelled", logger.String("jobId", jobID))
	return nil
}

// CleanupJobs removes stored objects and finished job records older than
// the retention period. It returns the number of job records removed.
func (s *Service) CleanupJobs(ctx context.Context) (int, error) {
	threshold := s.now().Add(-s.config.RetentionPeriod)

	objects, err := s.storage.CleanupBefore(ctx, storage.JobPrefix, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up storage: %w", err)
	}

	jobs, err := s.queue.ListJobs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if !job.Terminal() || !job.UpdatedAt.Before(threshold) {
			continue
		}
		if err := s.queue.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Error("Failed to delete expired job",
				logger.String("jobId", job.ID),
				logger.Error(err),
			)
			continue
		}
		removed++
	}

	s.logger.Info("Expired jobs cleaned up",
		logger.Int("objects", objects),
		logger.Int("jobs", removed),
	)
	return removed, nil
}

// Close releases the queue connections.
func (s *Service) Close() error {
	if c, ok := s.queue.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) readInput(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

func (s *Service) fail(ctx context.Context, job *models.ConversionJob, err error) {
	logger.FromContext(ctx, s.logger).Error("Conversion job failed", logger.Error(err))

	var ce *conversion.Error
	s.update(ctx, job, func(j *models.ConversionJob) {
		j.Status = models.JobFailed
		j.Error = err.Error()
		if errors.As(err, &ce) {
			j.ErrorKind = string(ce.Kind)
			j.Hint = ce.Hint
		}
	})
	s.discard(ctx, job.InputKey)
}

// update persists a job change unless the stored job already reached a
// final state, e.g. it was cancelled while the conversion ran. It reports
// whether the change was saved. A failed save is logged; the job record
// then lags until the next update or its TTL.
func (s *Service) update(ctx context.Context, job *models.ConversionJob, mutate func(*models.ConversionJob)) bool {
	log := logger.FromContext(ctx, s.logger)
	if current, err := s.queue.GetJob(ctx, job.ID); err == nil && current.Terminal() {
		log.Info("Job already finished, keeping stored state",
			logger.String("status", string(current.Status)),
		)
		*job = *current
		return false
	}

	mutate(job)
	job.UpdatedAt = s.now()
	if err := s.queue.SaveJob(ctx, job); err != nil {
		log.Error("Failed to save job",
			logger.String("status", string(job.Status)),
			logger.Error(err),
		)
	}
	return true
}

func (s *Service) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to delete stored object", logger.String("key", key), logger.Error(err))
	}
}
