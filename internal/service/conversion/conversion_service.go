package conversion

import (
	"context"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/utils/validator"
)

type Converter interface {
	// Validate describes an upload without accepting it.
	Validate(filename string, data []byte) *validator.ValidationResult
	HandleUpload(filename string, data []byte) (*models.UploadedDocument, error)
	Convert(ctx context.Context, doc *models.UploadedDocument, opts models.ConversionOptions) (*models.ConversionResult, error)
	Health(ctx context.Context) *HealthReport
}

type HealthReport struct {
	Status        string  `json:"status"`
	Backend       string  `json:"backend"`
	BackendError  string  `json:"backendError,omitempty"`
	Profile       string  `json:"profile"`
	MaxUploadSize string  `json:"maxUploadSize"`
	MemoryPercent float64 `json:"memoryPercent,omitempty"`
	Memory        string  `json:"memory,omitempty"`
}
