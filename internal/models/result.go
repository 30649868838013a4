package models

import "time"

// RenderedResult is what a converter backend hands back: markdown text,
// its metadata and any images it extracted.
type RenderedResult struct {
	Markdown string                 `json:"markdown"`
	Metadata map[string]interface{} `json:"metadata"`
	Images   map[string][]byte      `json:"-"`
	// ImageCount is used when a backend counts images without keeping bytes.
	ImageCount int `json:"imageCount"`
}

// NumImages returns the number of extracted images.
func (r *RenderedResult) NumImages() int {
	if r == nil {
		return 0
	}
	if len(r.Images) > r.ImageCount {
		return len(r.Images)
	}
	return r.ImageCount
}

// ConversionResult is the final, format-specific output of one request.
type ConversionResult struct {
	Format       OutputFormat  `json:"format"`
	Content      string        `json:"content"`
	Images       int           `json:"images"`
	DownloadName string        `json:"downloadName"`
	MimeType     string        `json:"mimeType"`
	Warnings     []string      `json:"warnings,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Preview is the display-only, possibly truncated view of a result.
type Preview struct {
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}
