package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/storage/minio"
	"github.com/feichai0017/document-converter/pkg/storage/s3"
)

type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage holds job inputs and rendered results.
type Storage interface {
	// Store writes size bytes from reader under key. size may be -1 when
	// unknown.
	Store(ctx context.Context, reader io.Reader, key string, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects under prefix last modified before
	// threshold and reports how many were removed.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

func NewStorage(storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(logger)
	case StorageTypeMinio:
		return minio.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// JobPrefix is the common prefix of every job object.
const JobPrefix = "jobs/"

// InputKey is where a job's upload is kept.
func InputKey(jobID, ext string) string {
	return path.Join(JobPrefix, jobID, "input."+ext)
}

// ResultKey is where a job's rendered output is kept.
func ResultKey(jobID, downloadName string) string {
	return path.Join(JobPrefix, jobID, downloadName)
}
