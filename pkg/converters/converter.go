package converters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"

	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/models"
)

// DownloadMimeType is used for every output format.
const DownloadMimeType = "text/plain; charset=utf-8"

// Renderer turns a backend result into the requested output format.
type Renderer interface {
	Format() models.OutputFormat
	Render(r *models.RenderedResult) (string, error)
}

// JSONDocument is the envelope written for json output.
type JSONDocument struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Images   int                    `json:"images"`
}

func NewRenderer(format models.OutputFormat) (Renderer, error) {
	switch format {
	case models.FormatMarkdown:
		return MarkdownRenderer{}, nil
	case models.FormatJSON:
		return JSONRenderer{}, nil
	case models.FormatHTML:
		return HTMLRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

type MarkdownRenderer struct{}

func (MarkdownRenderer) Format() models.OutputFormat { return models.FormatMarkdown }

func (MarkdownRenderer) Render(r *models.RenderedResult) (string, error) {
	return document.ExtractText(r), nil
}

type JSONRenderer struct{}

func (JSONRenderer) Format() models.OutputFormat { return models.FormatJSON }

func (JSONRenderer) Render(r *models.RenderedResult) (string, error) {
	doc := JSONDocument{
		Text:     document.ExtractText(r),
		Metadata: map[string]interface{}{},
		Images:   r.NumImages(),
	}
	if r != nil && r.Metadata != nil {
		doc.Metadata = r.Metadata
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to encode json result: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

type HTMLRenderer struct{}

func (HTMLRenderer) Format() models.OutputFormat { return models.FormatHTML }

func (HTMLRenderer) Render(r *models.RenderedResult) (string, error) {
	return "<html><body><pre>" + html.EscapeString(document.ExtractText(r)) + "</pre></body></html>", nil
}

// DownloadName is converted.md for markdown and converted.<format> otherwise.
func DownloadName(format models.OutputFormat) string {
	return "converted." + format.Extension()
}
