package models

import "time"

// JobStatus is the lifecycle state of an asynchronous conversion.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ConversionJob tracks one queued conversion.
type ConversionJob struct {
	ID           string            `json:"id"`
	Status       JobStatus         `json:"status"`
	Filename     string            `json:"filename"`
	Size         int64             `json:"size"`
	Options      ConversionOptions `json:"options"`
	InputKey     string            `json:"inputKey"`
	ResultKey    string            `json:"resultKey,omitempty"`
	DownloadName string            `json:"downloadName,omitempty"`
	Images       int               `json:"images"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    string            `json:"errorKind,omitempty"`
	Hint         string            `json:"hint,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Terminal reports whether the job can no longer change state.
func (j *ConversionJob) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}
