package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// Recognition is the text an OCR engine found in one image.
type Recognition struct {
	Text       string
	Confidence float64
	Width      int
	Height     int
	Format     string
	Source     string
}

// Engine turns image bytes into text.
type Engine interface {
	Name() string
	// Recognize runs OCR. highAccuracy enables the slower preprocessing path.
	Recognize(ctx context.Context, data []byte, highAccuracy bool) (*Recognition, error)
	Close() error
}

func decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}
