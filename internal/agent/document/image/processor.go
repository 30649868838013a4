package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/document-converter/pkg/logger"
)

// Processor is the Tesseract OCR engine.
type Processor struct {
	logger        logger.Logger
	preprocessors []ImagePreprocessor
	config        *ProcessOptions
}

// ImagePreprocessor is one step of the high-accuracy preprocessing pipeline.
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

type ProcessOptions struct {
	Language         []string
	PageSegMode      gosseract.PageSegMode
	MinConfidence    float64
	PreprocessConfig *PreprocessConfig
}

type PreprocessConfig struct {
	AdaptiveBlockSize int
	AdaptiveConstant  float64
	DenoiseStrength   float64
	SharpenStrength   float64
	Contrast          float64
}

func DefaultProcessOptions() *ProcessOptions {
	return &ProcessOptions{
		Language:      []string{"eng"},
		PageSegMode:   gosseract.PSM_AUTO,
		MinConfidence: 60.0,
		PreprocessConfig: &PreprocessConfig{
			AdaptiveBlockSize: 11,
			AdaptiveConstant:  2,
			DenoiseStrength:   0.5,
			SharpenStrength:   0.5,
			Contrast:          20,
		},
	}
}

func NewProcessor(log logger.Logger, opts *ProcessOptions) (*Processor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts == nil {
		opts = DefaultProcessOptions()
	}

	return &Processor{
		logger:        log,
		preprocessors: NewPipeline(opts.PreprocessConfig),
		config:        opts,
	}, nil
}

func (p *Processor) Name() string { return "tesseract" }

func (p *Processor) Recognize(ctx context.Context, data []byte, highAccuracy bool) (*Recognition, error) {
	img, format, err := decode(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	rec := &Recognition{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
		Source: p.Name(),
	}

	// a new client per call, gosseract clients are not safe for concurrent use
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Join(p.config.Language, "+")); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(p.config.PageSegMode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	input := data
	if highAccuracy {
		processed, err := p.applyPreprocessing(img)
		if err != nil {
			return nil, err
		}
		buf := new(bytes.Buffer)
		if err := png.Encode(buf, processed); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		input = buf.Bytes()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := client.SetImageFromBytes(input); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("failed to get text: %w", err)
	}
	rec.Text = strings.TrimSpace(text)

	if highAccuracy {
		boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
		if err != nil {
			p.logger.Warn("Failed to get bounding boxes", logger.Error(err))
		} else {
			rec.Confidence = p.averageConfidence(boxes)
		}
	}

	return rec, nil
}

func (p *Processor) applyPreprocessing(img image.Image) (image.Image, error) {
	result := img
	for _, processor := range p.preprocessors {
		var err error
		result, err = processor.Process(result)
		if err != nil {
			p.logger.Error("Preprocessing failed", logger.Error(err))
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return result, nil
}

// averageConfidence ignores words under MinConfidence.
func (p *Processor) averageConfidence(boxes []gosseract.BoundingBox) float64 {
	var total float64
	var n int
	for _, box := range boxes {
		if box.Confidence >= p.config.MinConfidence {
			total += box.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func (p *Processor) Close() error {
	return nil
}
