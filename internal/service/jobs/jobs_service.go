package jobs

import (
	"context"
	"errors"
	"io"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/queue"
)

var (
	ErrJobNotFound       = queue.ErrJobNotFound
	ErrJobNotReady       = errors.New("job has not completed")
	ErrJobNotCancellable = errors.New("job already finished")
)

// JobService runs conversions asynchronously through the queue.
type JobService interface {
	Submit(ctx context.Context, doc *models.UploadedDocument, opts models.ConversionOptions) (*models.ConversionJob, error)
	GetStatus(ctx context.Context, jobID string) (*models.ConversionJob, error)
	HandleConversion(ctx context.Context, task *queue.Task) error
	GetResult(ctx context.Context, jobID string) (io.ReadCloser, *models.ConversionJob, error)
	Cancel(ctx context.Context, jobID string) error
	CleanupJobs(ctx context.Context) (int, error)
}
