package document

import (
	"context"
	"errors"
	"time"

	"github.com/feichai0017/document-converter/internal/models"
)

// Errors a backend may wrap so callers can classify failures without
// parsing messages.
var (
	// ErrCollaboratorUnavailable means the converter itself cannot be loaded
	// (binary missing, library not installed).
	ErrCollaboratorUnavailable = errors.New("converter unavailable")
	// ErrAccessDenied means the model host refused the request (HTTP 403).
	ErrAccessDenied = errors.New("access denied by model host")
	// ErrResourceExhausted covers memory or accelerator exhaustion.
	ErrResourceExhausted = errors.New("insufficient memory or accelerator resources")
	// ErrAssetPermission means the converter could not write to its static
	// asset directory. The workflow retries once with another asset root.
	ErrAssetPermission = errors.New("permission denied on converter asset path")
)

// ModelBundle is the handle returned by AcquireModels. It is opaque to the
// workflow apart from the warnings it carries.
type ModelBundle struct {
	Backend  string
	CacheDir string
	LoadedAt time.Time
	Warnings []string
	Props    map[string]string
}

// Converter is one conversion path of a backend.
type Converter interface {
	Name() string
	// Convert renders the file at path. It must honour ctx cancellation.
	Convert(ctx context.Context, path string, bundle *ModelBundle, opts models.ConversionOptions) (*models.RenderedResult, error)
}

// Backend is the external document-understanding collaborator.
type Backend interface {
	Name() string
	// Available reports whether the backend can be loaded at all.
	Available(ctx context.Context) error
	AcquireModels(ctx context.Context) (*ModelBundle, error)
	// PDFConverter is the PDF-specialised path.
	PDFConverter() Converter
	// ExtractionConverter handles every other supported type.
	ExtractionConverter() Converter
	Close() error
}

// ExtractText returns the plain rendered text of a result.
func ExtractText(r *models.RenderedResult) string {
	if r == nil {
		return ""
	}
	return r.Markdown
}
