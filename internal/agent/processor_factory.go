package agent

import (
	"fmt"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/agent/document/image"
	"github.com/feichai0017/document-converter/internal/agent/document/marker"
	"github.com/feichai0017/document-converter/internal/agent/document/native"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// ConverterFactory dispatches a staged file to the backend path for its type.
type ConverterFactory struct {
	backend document.Backend
	logger  logger.Logger
}

func NewConverterFactory(backend document.Backend, log logger.Logger) *ConverterFactory {
	return &ConverterFactory{
		backend: backend,
		logger:  log,
	}
}

// NewBackend builds the backend named in the converter configuration.
func NewBackend(c *cfg.ConverterConfig, log logger.Logger) (document.Backend, error) {
	switch c.Backend {
	case cfg.BackendMarker:
		return marker.NewBackend(&marker.Config{
			Binary:       c.MarkerBinary,
			ModelHostURL: c.ModelHostURL,
			Token:        c.ModelToken,
			CacheDir:     c.CacheDir,
			AssetRoot:    c.AssetRoot,
		}, log.Named("marker")), nil
	case cfg.BackendNative:
		return native.NewBackend(&native.Config{
			OCREngine:      c.OCREngine,
			Languages:      c.OCRLanguages,
			Textract:       textractConfig(),
			OllamaEndpoint: c.OllamaEndpoint,
			OllamaModel:    c.OllamaModel,
		}, log.Named("native"))
	default:
		return nil, fmt.Errorf("unsupported converter backend: %s", c.Backend)
	}
}

func textractConfig() *image.TextractConfig {
	t := cfg.GetTextractConfig()
	return &image.TextractConfig{
		Region:        t.Region,
		AccessKey:     t.AccessKey,
		SecretKey:     t.SecretKey,
		MinConfidence: float32(t.MinConfidence),
	}
}

func (f *ConverterFactory) Backend() document.Backend {
	return f.backend
}

// GetConverter returns the PDF path for pdf files and the general extraction
// path for every other supported type.
func (f *ConverterFactory) GetConverter(fileType models.FileType) (document.Converter, error) {
	if !fileType.IsSupported() {
		f.logger.Error("Unsupported file type",
			logger.String("fileType", string(fileType)),
		)
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}

	var conv document.Converter
	if fileType == models.PDF {
		conv = f.backend.PDFConverter()
	} else {
		conv = f.backend.ExtractionConverter()
	}

	f.logger.Debug("Dispatching converter",
		logger.String("fileType", string(fileType)),
		logger.String("converter", conv.Name()),
	)
	return conv, nil
}
