package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
)

// DocumentValidator applies the upload policy: a size cap and a fixed set of
// extensions. It never touches the filesystem.
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxFileSize  int64
	AllowedTypes []models.FileType
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	SizeMB    string `json:"sizeMB"`
	Display   string `json:"display"`
	MimeType  string `json:"mimeType,omitempty"`
	Extension string `json:"extension"`
	Hash      string `json:"hash,omitempty"`
}

// Rejection is returned for uploads that fail policy. It is a user-visible
// block, not a system fault.
type Rejection struct {
	Result *ValidationResult
}

func (r *Rejection) Error() string {
	msgs := make([]string, 0, len(r.Result.Errors))
	for _, e := range r.Result.Errors {
		msgs = append(msgs, e.Message)
	}
	return "upload rejected: " + strings.Join(msgs, "; ")
}

// HasCode reports whether the rejection carries the given error code.
func (r *Rejection) HasCode(code string) bool {
	for _, e := range r.Result.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = &ValidatorConfig{
			MaxFileSize: 200 * 1024 * 1024,
		}
	}
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = models.SupportedTypes
	}

	return &DocumentValidator{
		logger: log,
		config: config,
	}
}

// MaxFileSize returns the configured upload cap in bytes.
func (v *DocumentValidator) MaxFileSize() int64 {
	return v.config.MaxFileSize
}

// Validate checks an upload against the policy and describes it.
func (v *DocumentValidator) Validate(filename string, data []byte) *ValidationResult {
	size := int64(len(data))
	ext := models.FileTypeOf(filename)

	result := &ValidationResult{
		IsValid: true,
		Errors:  make([]ValidationError, 0),
		FileInfo: FileInfo{
			Filename:  filename,
			Size:      size,
			SizeMB:    models.SizeMB(size),
			Display:   fmt.Sprintf("%s (%s bytes)", filename, humanize.Comma(size)),
			Extension: string(ext),
		},
	}

	if errs := v.performBasicValidation(result.FileInfo, ext); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
		return result
	}

	result.FileInfo.MimeType = mimetype.Detect(data).String()
	result.FileInfo.Hash = calculateHash(data)

	return result
}

// Accept runs Validate and turns a valid upload into an UploadedDocument
// carrying the sanitized filename. Invalid uploads come back as *Rejection.
func (v *DocumentValidator) Accept(filename string, data []byte) (*models.UploadedDocument, error) {
	result := v.Validate(filename, data)
	if !result.IsValid {
		v.logger.Warn("Upload rejected",
			logger.String("filename", filename),
			logger.Int64("size", result.FileInfo.Size),
			logger.Any("errors", result.Errors),
		)
		return nil, &Rejection{Result: result}
	}

	return &models.UploadedDocument{
		Filename:   SanitizeFilename(filename),
		Extension:  models.FileType(result.FileInfo.Extension),
		Size:       result.FileInfo.Size,
		MimeType:   result.FileInfo.MimeType,
		Hash:       result.FileInfo.Hash,
		ReceivedAt: time.Now(),
		Content:    data,
	}, nil
}

func (v *DocumentValidator) performBasicValidation(info FileInfo, ext models.FileType) []ValidationError {
	var errors []ValidationError

	if info.Size > v.config.MaxFileSize {
		errors = append(errors, ValidationError{
			Code: CodeFileTooLarge,
			Message: fmt.Sprintf("file size %s exceeds the %s limit",
				models.SizeMB(info.Size), models.SizeMB(v.config.MaxFileSize)),
			Field: "size",
		})
	}

	if !v.allowed(ext) {
		errors = append(errors, ValidationError{
			Code:    CodeInvalidFileType,
			Message: fmt.Sprintf("file type %q is not supported (supported: %s)", ext, v.allowedList()),
			Field:   "extension",
		})
	}

	return errors
}

func (v *DocumentValidator) allowed(ext models.FileType) bool {
	for _, t := range v.config.AllowedTypes {
		if t == ext {
			return true
		}
	}
	return false
}

func (v *DocumentValidator) allowedList() string {
	names := make([]string, len(v.config.AllowedTypes))
	for i, t := range v.config.AllowedTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func calculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SanitizeFilename strips directory components and separators so a client
// supplied name can be used inside a storage key.
func SanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(filename))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}
