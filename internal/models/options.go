package models

import "fmt"

// OutputFormat is the rendition requested by the user.
type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
	FormatHTML     OutputFormat = "html"
)

// ParseOutputFormat maps user input to an OutputFormat. Empty means markdown.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Extension is the download suffix: md for markdown, the format name otherwise.
func (f OutputFormat) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// ConversionOptions are chosen per request and never persisted.
type ConversionOptions struct {
	OutputFormat  OutputFormat `json:"outputFormat"`
	ExtractImages bool         `json:"extractImages"`
	// HighAccuracy trades latency for quality by engaging an extra model pass.
	HighAccuracy bool `json:"highAccuracy"`
	// AssetRoot is a writable directory the converter may use for its static
	// assets. Set by the workflow, not by users.
	AssetRoot string `json:"-"`
}

// DefaultOptions mirrors the upload form defaults.
func DefaultOptions() ConversionOptions {
	return ConversionOptions{
		OutputFormat:  FormatMarkdown,
		ExtractImages: true,
	}
}
