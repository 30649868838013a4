package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/agent"
	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/utils/validator"
	"github.com/feichai0017/document-converter/pkg/converters"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// Service runs one conversion request from upload to rendered output.
type Service struct {
	validator *validator.DocumentValidator
	factory   *agent.ConverterFactory
	memory    MemoryProbe
	logger    logger.Logger
	config    *ServiceConfig
}

type ServiceConfig struct {
	Profile       string
	MaxUploadSize int64
	// WarnPercent and AbortPercent are memory utilisation marks. Zero
	// disables the check.
	WarnPercent       float64
	AbortPercent      float64
	Timeout           time.Duration
	TempDir           string
	AssetRoot         string
	FallbackAssetRoot string
	SupportContact    string
}

func ConfigFrom(c *cfg.ConverterConfig) *ServiceConfig {
	return &ServiceConfig{
		Profile:           c.Profile,
		MaxUploadSize:     c.MaxUploadSize,
		WarnPercent:       c.WarnPercent,
		AbortPercent:      c.AbortPercent,
		Timeout:           c.ConvertTimeout,
		TempDir:           c.TempDir,
		AssetRoot:         c.AssetRoot,
		FallbackAssetRoot: c.FallbackAssetRoot,
		SupportContact:    c.SupportContact,
	}
}

func NewService(factory *agent.ConverterFactory, memory MemoryProbe, log logger.Logger, config *ServiceConfig) *Service {
	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &Service{
		validator: validator.NewDocumentValidator(log.Named("validator"), &validator.ValidatorConfig{
			MaxFileSize: config.MaxUploadSize,
		}),
		factory: factory,
		memory:  memory,
		logger:  log,
		config:  config,
	}
}

// GetService wires the service from environment configuration.
func GetService(log logger.Logger) (*Service, error) {
	c := cfg.GetConverterConfig()

	backend, err := agent.NewBackend(c, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize converter backend: %w", err)
	}
	for _, dir := range []string{c.TempDir, c.AssetRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	factory := agent.NewConverterFactory(backend, log.Named("factory"))
	return NewService(factory, NewHostMemoryProbe(), log, ConfigFrom(c)), nil
}

func (s *Service) Validate(filename string, data []byte) *validator.ValidationResult {
	return s.validator.Validate(filename, data)
}

// HandleUpload applies the upload policy. Rejections come back as *Error
// with KindValidationRejected; nothing is staged.
func (s *Service) HandleUpload(filename string, data []byte) (*models.UploadedDocument, error) {
	doc, err := s.validator.Accept(filename, data)
	if err != nil {
		var r *validator.Rejection
		if errors.As(err, &r) {
			return nil, rejected(r)
		}
		return nil, err
	}

	s.logger.Info("Upload accepted",
		logger.String("filename", doc.Filename),
		logger.String("size", models.SizeMB(doc.Size)),
	)
	return doc, nil
}

func (s *Service) Convert(ctx context.Context, doc *models.UploadedDocument, opts models.ConversionOptions) (*models.ConversionResult, error) {
	start := time.Now()
	if opts.OutputFormat == "" {
		opts.OutputFormat = models.FormatMarkdown
	}
	log := logger.FromContext(ctx, s.logger).With(
		logger.String("filename", doc.Filename),
		logger.String("format", string(opts.OutputFormat)),
	)

	renderer, err := converters.NewRenderer(opts.OutputFormat)
	if err != nil {
		return nil, &Error{Kind: KindConversionFailed, Class: ClassUnknown, Hint: err.Error(), Err: err}
	}

	staged, err := stage(s.config.TempDir, doc, log)
	if err != nil {
		log.Error("Staging failed", logger.Error(err))
		return nil, stagingFailed(err)
	}
	defer staged.Release()

	var warnings []string
	warning, err := s.checkMemory(ctx, log)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		warnings = append(warnings, warning)
	}

	backend := s.factory.Backend()
	bundle, err := backend.AcquireModels(ctx)
	if err != nil {
		e := s.acquisitionFailed(err)
		log.Error("Model acquisition failed",
			logger.String("kind", string(e.Kind)),
			logger.String("class", string(e.Class)),
			logger.Error(err),
		)
		return nil, e
	}
	warnings = append(warnings, bundle.Warnings...)

	conv, err := s.factory.GetConverter(models.FileTypeOf(staged.Path))
	if err != nil {
		return nil, s.conversionFailed(err)
	}

	if opts.AssetRoot == "" {
		opts.AssetRoot = s.config.AssetRoot
	}
	rendered, err := s.invoke(ctx, conv, staged.Path, bundle, opts)
	if errors.Is(err, document.ErrAssetPermission) && s.config.FallbackAssetRoot != "" {
		log.Warn("Asset path not writable, retrying with fallback",
			logger.String("assetRoot", opts.AssetRoot),
			logger.String("fallback", s.config.FallbackAssetRoot),
			logger.Error(err),
		)
		if mkErr := os.MkdirAll(s.config.FallbackAssetRoot, 0o755); mkErr != nil {
			log.Error("Failed to create fallback asset root", logger.Error(mkErr))
		}
		opts.AssetRoot = s.config.FallbackAssetRoot
		rendered, err = s.invoke(ctx, conv, staged.Path, bundle, opts)
	}
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = s.conversionFailed(err)
		}
		log.Error("Conversion failed",
			logger.String("converter", conv.Name()),
			logger.String("kind", string(e.Kind)),
			logger.Error(err),
		)
		return nil, e
	}

	content, err := renderer.Render(rendered)
	if err != nil {
		return nil, s.conversionFailed(err)
	}

	result := &models.ConversionResult{
		Format:       opts.OutputFormat,
		Content:      content,
		Images:       rendered.NumImages(),
		DownloadName: converters.DownloadName(opts.OutputFormat),
		MimeType:     converters.DownloadMimeType,
		Warnings:     warnings,
		Duration:     time.Since(start),
	}

	log.Info("Conversion completed",
		logger.String("converter", conv.Name()),
		logger.Int("chars", len(content)),
		logger.Int("images", result.Images),
		logger.Duration("duration", result.Duration),
	)
	return result, nil
}

type outcome struct {
	result *models.RenderedResult
	err    error
}

// invoke runs the converter under the wall-clock budget. On expiry the
// call is abandoned: its context is cancelled and any late result is
// dropped.
func (s *Service) invoke(ctx context.Context, conv document.Converter, path string, bundle *document.ModelBundle, opts models.ConversionOptions) (*models.RenderedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("converter panicked: %v", r)}
			}
		}()
		res, err := conv.Convert(ctx, path, bundle, opts)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timedOut(s.config.Timeout)
		}
		if o.err == nil && o.result == nil {
			return nil, fmt.Errorf("%s returned no result", conv.Name())
		}
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timedOut(s.config.Timeout)
		}
		return nil, ctx.Err()
	}
}

// checkMemory returns a warning above the warn mark and a ResourceExhausted
// error above the abort mark. A failing probe is logged and ignored.
func (s *Service) checkMemory(ctx context.Context, log logger.Logger) (string, error) {
	if s.memory == nil {
		return "", nil
	}
	stats, err := s.memory.Usage(ctx)
	if err != nil {
		log.Warn("Memory probe failed", logger.Error(err))
		return "", nil
	}
	log.Info("Memory check", logger.Float64("usedPercent", stats.UsedPercent), logger.String("report", stats.String()))

	if s.config.AbortPercent > 0 && stats.UsedPercent > s.config.AbortPercent {
		return "", resourceExhausted(fmt.Errorf("%s exceeds the %.0f%% limit", stats, s.config.AbortPercent))
	}
	if s.config.WarnPercent > 0 && stats.UsedPercent > s.config.WarnPercent {
		log.Warn("Memory usage is high", logger.Float64("usedPercent", stats.UsedPercent))
		return stats.String() + "; conversion may fail", nil
	}
	return "", nil
}

func (s *Service) Health(ctx context.Context) *HealthReport {
	backend := s.factory.Backend()
	report := &HealthReport{
		Status:        "ok",
		Backend:       backend.Name(),
		Profile:       s.config.Profile,
		MaxUploadSize: models.SizeMB(s.validator.MaxFileSize()),
	}
	if err := backend.Available(ctx); err != nil {
		report.Status = "degraded"
		report.BackendError = err.Error()
	}
	if s.memory != nil {
		if stats, err := s.memory.Usage(ctx); err == nil {
			report.MemoryPercent = stats.UsedPercent
			report.Memory = stats.String()
		}
	}
	return report
}

// Close releases the backend's resources.
func (s *Service) Close() error {
	return s.factory.Backend().Close()
}
