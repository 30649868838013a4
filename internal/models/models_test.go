package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileTypeOf(t *testing.T) {
	tests := []struct {
		name string
		want FileType
	}{
		{"report.PDF", PDF},
		{"archive.tar.docx", DOCX},
		{"photo.JpEg", JPEG},
		{"noext", ""},
		{"dir.d/noext", ""},
		{".hidden", "hidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileTypeOf(tt.name))
		})
	}
}

func TestFileType_IsSupported(t *testing.T) {
	for _, ft := range SupportedTypes {
		assert.True(t, ft.IsSupported(), ft)
	}
	assert.False(t, FileType("exe").IsSupported())
	assert.False(t, FileType("").IsSupported())
}

func TestOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	assert.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)
	assert.Equal(t, "md", f.Extension())

	f, err = ParseOutputFormat("json")
	assert.NoError(t, err)
	assert.Equal(t, "json", f.Extension())

	_, err = ParseOutputFormat("pdf")
	assert.Error(t, err)
}

func TestSizeMB(t *testing.T) {
	assert.Equal(t, "15.0 MB", SizeMB(15*1024*1024))
	assert.Equal(t, "10.0 MB", SizeMB(10*1024*1024))
	assert.Equal(t, "0.0 MB", SizeMB(2048))
}

func TestRenderedResult_NumImages(t *testing.T) {
	var nilResult *RenderedResult
	assert.Equal(t, 0, nilResult.NumImages())
	assert.Equal(t, 2, (&RenderedResult{Images: map[string][]byte{"a": nil, "b": nil}}).NumImages())
	assert.Equal(t, 5, (&RenderedResult{ImageCount: 5}).NumImages())
}
