package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FileType is the lower-cased extension of an upload, without the dot.
type FileType string

const (
	PDF  FileType = "pdf"
	DOCX FileType = "docx"
	PPTX FileType = "pptx"
	XLSX FileType = "xlsx"
	HTML FileType = "html"
	EPUB FileType = "epub"
	PNG  FileType = "png"
	JPG  FileType = "jpg"
	JPEG FileType = "jpeg"
)

// SupportedTypes lists every extension the workflow accepts.
var SupportedTypes = []FileType{PDF, DOCX, PPTX, XLSX, HTML, EPUB, PNG, JPG, JPEG}

// IsSupported reports whether t is one of SupportedTypes.
func (t FileType) IsSupported() bool {
	for _, s := range SupportedTypes {
		if s == t {
			return true
		}
	}
	return false
}

// IsImage reports whether t is a raster image type.
func (t FileType) IsImage() bool {
	return t == PNG || t == JPG || t == JPEG
}

// FileTypeOf returns the lower-cased suffix after the last '.', or "" when
// the name has no dot.
func FileTypeOf(filename string) FileType {
	base := filepath.Base(filename)
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return FileType(strings.ToLower(base[i+1:]))
}

// UploadedDocument is an accepted upload. It is never mutated after
// validation.
type UploadedDocument struct {
	Filename   string    `json:"filename"`
	Extension  FileType  `json:"extension"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimeType"`
	Hash       string    `json:"hash"`
	ReceivedAt time.Time `json:"receivedAt"`
	Content    []byte    `json:"-"`
}

// SizeMB renders a byte count with one decimal, e.g. "15.0 MB".
func SizeMB(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
