package converters

import (
	"unicode/utf8"

	"github.com/feichai0017/document-converter/internal/models"
)

const (
	MarkdownPreviewLimit   = 2000
	StructuredPreviewLimit = 1000
	ellipsis               = "..."
)

// PreviewLimit is the number of characters shown before truncation.
func PreviewLimit(format models.OutputFormat) int {
	if format == models.FormatMarkdown {
		return MarkdownPreviewLimit
	}
	return StructuredPreviewLimit
}

// Preview truncates content for display, appending "..." only when
// something was cut. Limits count characters, not bytes.
func Preview(content string, format models.OutputFormat) models.Preview {
	limit := PreviewLimit(format)
	if utf8.RuneCountInString(content) <= limit {
		return models.Preview{Text: content}
	}

	n := 0
	for i := range content {
		if n == limit {
			return models.Preview{Text: content[:i] + ellipsis, Truncated: true}
		}
		n++
	}
	return models.Preview{Text: content}
}
