package conversion

import (
	"fmt"
	"os"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// StagedFile is the on-disk copy of one upload. It belongs to a single
// request and must be released on every exit path.
type StagedFile struct {
	Path   string
	logger logger.Logger
}

// stage writes doc to a new temp file in dir whose suffix matches the
// upload's extension.
func stage(dir string, doc *models.UploadedDocument, log logger.Logger) (*StagedFile, error) {
	ext := doc.Extension
	if ext == "" {
		ext = models.FileTypeOf(doc.Filename)
	}

	f, err := os.CreateTemp(dir, "upload-*."+string(ext))
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file: %w", err)
	}
	staged := &StagedFile{Path: f.Name(), logger: log}

	if _, err := f.Write(doc.Content); err != nil {
		f.Close()
		staged.Release()
		return nil, fmt.Errorf("failed to write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		staged.Release()
		return nil, fmt.Errorf("failed to close staged file: %w", err)
	}
	return staged, nil
}

// Release removes the file. Failures are logged and never returned.
func (f *StagedFile) Release() {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		f.logger.Error("Failed to remove staged file",
			logger.String("path", f.Path),
			logger.Error(err),
		)
	}
}
