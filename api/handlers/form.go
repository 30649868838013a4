package handlers

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/feichai0017/document-converter/internal/models"
)

// ConvertForm is the multipart upload form shared by the sync and async
// conversion endpoints.
type ConvertForm struct {
	File          *multipart.FileHeader `form:"file" binding:"required"`
	OutputFormat  string                `form:"output_format" binding:"omitempty,oneof=markdown json html"`
	ExtractImages *bool                 `form:"extract_images"`
	UseLLM        bool                  `form:"use_llm"`
}

func (f *ConvertForm) Options() models.ConversionOptions {
	opts := models.DefaultOptions()
	if f.OutputFormat != "" {
		opts.OutputFormat = models.OutputFormat(f.OutputFormat)
	}
	if f.ExtractImages != nil {
		opts.ExtractImages = *f.ExtractImages
	}
	opts.HighAccuracy = f.UseLLM
	return opts
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}
