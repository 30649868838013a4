// Package native converts documents in-process with Go libraries. It is the
// fallback when the marker toolchain is not installed.
package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/agent/document/image"
	"github.com/feichai0017/document-converter/internal/agent/document/office"
	"github.com/feichai0017/document-converter/internal/agent/document/pdf"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const (
	backendName = "native"

	EngineTesseract = "tesseract"
	EngineTextract  = "textract"

	transcribePrompt = "Transcribe all text in this image as Markdown. Return only the Markdown."
)

type Config struct {
	OCREngine string
	Languages []string
	Textract  *image.TextractConfig
	// OllamaEndpoint enables the refinement and vision passes used in
	// high-accuracy mode.
	OllamaEndpoint string
	OllamaModel    string
}

// refiner is the optional language model behind high-accuracy mode.
type refiner interface {
	Refine(ctx context.Context, text string) (string, error)
	AnalyzeImage(ctx context.Context, data []byte, prompt string) (string, error)
}

type Backend struct {
	config  *Config
	logger  logger.Logger
	pdf     *pdf.Processor
	office  *office.Extractor
	ocr     image.Engine
	refiner refiner

	pdfConv        *converter
	extractionConv *converter
}

func NewBackend(cfg *Config, log logger.Logger) (*Backend, error) {
	engine, err := newEngine(cfg, log)
	if err != nil {
		return nil, err
	}

	var ref refiner
	if cfg.OllamaEndpoint != "" {
		ref = image.NewOllamaClientPool(image.DefaultOllamaConfig(cfg.OllamaEndpoint, cfg.OllamaModel))
	}
	return newBackend(cfg, engine, ref, log), nil
}

func newEngine(cfg *Config, log logger.Logger) (image.Engine, error) {
	switch cfg.OCREngine {
	case "", EngineTesseract:
		opts := image.DefaultProcessOptions()
		if len(cfg.Languages) > 0 {
			opts.Language = cfg.Languages
		}
		return image.NewProcessor(log.Named("tesseract"), opts)
	case EngineTextract:
		if cfg.Textract == nil {
			return nil, fmt.Errorf("textract engine requires configuration")
		}
		return image.NewTextractProcessor(context.Background(), cfg.Textract, log.Named("textract"))
	default:
		return nil, fmt.Errorf("unsupported OCR engine: %s", cfg.OCREngine)
	}
}

func newBackend(cfg *Config, engine image.Engine, ref refiner, log logger.Logger) *Backend {
	b := &Backend{
		config:  cfg,
		logger:  log,
		pdf:     pdf.NewProcessor(log.Named("pdf")),
		office:  office.NewExtractor(log.Named("office")),
		ocr:     engine,
		refiner: ref,
	}
	b.pdfConv = &converter{backend: b, name: "native-pdf", pdf: true}
	b.extractionConv = &converter{backend: b, name: "native-extraction"}
	return b
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) PDFConverter() document.Converter { return b.pdfConv }

func (b *Backend) ExtractionConverter() document.Converter { return b.extractionConv }

// Available always succeeds once an OCR engine is configured; everything
// else runs in-process.
func (b *Backend) Available(ctx context.Context) error {
	if b.ocr == nil {
		return fmt.Errorf("%w: no OCR engine configured", document.ErrCollaboratorUnavailable)
	}
	return nil
}

func (b *Backend) AcquireModels(ctx context.Context) (*document.ModelBundle, error) {
	if err := b.Available(ctx); err != nil {
		return nil, err
	}
	bundle := &document.ModelBundle{
		Backend:  backendName,
		LoadedAt: time.Now(),
		Props: map[string]string{
			"ocr": b.ocr.Name(),
		},
	}
	if b.refiner == nil {
		bundle.Props["refiner"] = "none"
	}
	return bundle, nil
}

func (b *Backend) Close() error {
	if c, ok := b.refiner.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return b.ocr.Close()
}

type converter struct {
	backend *Backend
	name    string
	pdf     bool
}

func (c *converter) Name() string { return c.name }

func (c *converter) Convert(ctx context.Context, path string, bundle *document.ModelBundle, opts models.ConversionOptions) (*models.RenderedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.backend

	var (
		res *models.RenderedResult
		err error
	)
	ft := models.FileTypeOf(path)
	switch {
	case c.pdf:
		res, err = b.pdf.Process(ctx, path, opts.ExtractImages)
	case b.office.Supports(ft):
		res, err = b.office.Extract(path, ft, opts.ExtractImages)
	case ft.IsImage():
		res, err = b.recognize(ctx, path, opts)
	default:
		return nil, fmt.Errorf("%s cannot convert %q files", c.name, ft)
	}
	if err != nil {
		return nil, err
	}

	if opts.HighAccuracy && b.refiner != nil && res.Markdown != "" && res.Metadata["vision"] != true {
		b.refine(ctx, res)
	}
	return res, nil
}

func (b *Backend) recognize(ctx context.Context, path string, opts models.ConversionOptions) (*models.RenderedResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	rec, err := b.ocr.Recognize(ctx, data, opts.HighAccuracy)
	if err != nil {
		return nil, fmt.Errorf("%s recognition failed: %w", b.ocr.Name(), err)
	}

	res := &models.RenderedResult{
		Markdown: rec.Text,
		Metadata: map[string]interface{}{
			"source": rec.Source,
			"width":  rec.Width,
			"height": rec.Height,
			"format": rec.Format,
		},
	}
	if rec.Confidence > 0 {
		res.Metadata["confidence"] = rec.Confidence
	}
	if opts.HighAccuracy && b.refiner != nil && strings.TrimSpace(rec.Text) == "" {
		b.transcribe(ctx, data, res)
	}
	if opts.ExtractImages {
		res.Images = map[string][]byte{filepath.Base(path): data}
		res.ImageCount = 1
	}
	return res, nil
}

// transcribe asks the vision model to read an image the OCR engine found no
// text in, such as handwriting.
func (b *Backend) transcribe(ctx context.Context, data []byte, res *models.RenderedResult) {
	text, err := b.refiner.AnalyzeImage(ctx, data, transcribePrompt)
	if err != nil {
		b.logger.Warn("Vision transcription failed", logger.Error(err))
		return
	}
	if text = strings.TrimSpace(text); text == "" {
		return
	}
	res.Markdown = text
	res.Metadata["vision"] = true
}

// refine keeps the original text when the model call fails.
func (b *Backend) refine(ctx context.Context, res *models.RenderedResult) {
	refined, err := b.refiner.Refine(ctx, res.Markdown)
	if err != nil {
		b.logger.Warn("Refinement failed, keeping extracted text", logger.Error(err))
		return
	}
	if refined == "" {
		return
	}
	res.Markdown = refined
	if res.Metadata == nil {
		res.Metadata = make(map[string]interface{})
	}
	res.Metadata["refined"] = true
}
