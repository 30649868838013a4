package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/models"
)

const (
	TaskTypeConversion = "document:convert"
	TaskTypeCleanup    = "jobs:cleanup"

	// QueueDefault is the only queue conversions use.
	QueueDefault = "default"

	jobKeyPrefix = "conversion_job:"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

// Queue carries conversion tasks to workers and keeps job state.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	// Cancel removes a pending task or interrupts an active one.
	Cancel(ctx context.Context, jobID string) error
	SaveJob(ctx context.Context, job *models.ConversionJob) error
	GetJob(ctx context.Context, jobID string) (*models.ConversionJob, error)
	DeleteJob(ctx context.Context, jobID string) error
	// ListJobs returns every stored job.
	ListJobs(ctx context.Context) ([]*models.ConversionJob, error)
}

// Task is the payload of one conversion task.
type Task struct {
	ID        string                   `json:"id"`
	Type      string                   `json:"type"`
	InputKey  string                   `json:"inputKey"`
	Filename  string                   `json:"filename"`
	Size      int64                    `json:"size"`
	Options   models.ConversionOptions `json:"options"`
	CreatedAt time.Time                `json:"createdAt"`
}

type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	config    *QueueConfig
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TaskTimeout bounds a task on the worker. It should exceed the
	// conversion timeout so the workflow reports the timeout itself.
	TaskTimeout time.Duration
	StatusTTL   time.Duration
	Retention   time.Duration
}

// RedisOpt is shared by the queue client and the worker server.
func (c *QueueConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// ConfigFromEnv builds a QueueConfig from the environment.
func ConfigFromEnv() *QueueConfig {
	q := cfg.GetQueueConfig()
	c := cfg.GetConverterConfig()
	return &QueueConfig{
		RedisAddr:     q.RedisAddr,
		RedisPassword: q.RedisPassword,
		RedisDB:       q.RedisDB,
		TaskTimeout:   c.ConvertTimeout + 2*time.Minute,
		StatusTTL:     q.StatusTTL,
		Retention:     q.RetentionPeriod,
	}
}

func GetQueue() (*AsynqQueue, error) {
	return NewAsynqQueue(ConfigFromEnv())
}

func NewAsynqQueue(config *QueueConfig) (*AsynqQueue, error) {
	redisOpt := config.RedisOpt()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis:     redisClient,
		config:    config,
	}, nil
}

// Enqueue submits the task once. Failed conversions are never retried
// automatically; the user has to submit again.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(q.config.TaskTimeout),
		asynq.TaskID(task.ID),
		asynq.Queue(QueueDefault),
	}
	if q.config.Retention > 0 {
		opts = append(opts, asynq.Retention(q.config.Retention))
	}

	t := asynq.NewTask(task.Type, payload, opts...)
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Cancel(ctx context.Context, jobID string) error {
	info, err := q.inspector.GetTaskInfo(QueueDefault, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to inspect task: %w", err)
	}

	if info.State == asynq.TaskStateActive {
		if err := q.inspector.CancelProcessing(jobID); err != nil {
			return fmt.Errorf("failed to cancel active task: %w", err)
		}
		return nil
	}
	if err := q.inspector.DeleteTask(QueueDefault, jobID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return nil
}

func (q *AsynqQueue) SaveJob(ctx context.Context, job *models.ConversionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.redis.Set(ctx, jobKeyPrefix+job.ID, data, q.config.StatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (q *AsynqQueue) GetJob(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	data, err := q.redis.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job models.ConversionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *AsynqQueue) DeleteJob(ctx context.Context, jobID string) error {
	if err := q.redis.Del(ctx, jobKeyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (q *AsynqQueue) ListJobs(ctx context.Context) ([]*models.ConversionJob, error) {
	var jobs []*models.ConversionJob
	iter := q.redis.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		job, err := q.GetJob(ctx, iter.Val()[len(jobKeyPrefix):])
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return jobs, nil
}

func (q *AsynqQueue) Close() error {
	q.inspector.Close()
	q.redis.Close()
	return q.client.Close()
}
