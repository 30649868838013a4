package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/service/conversion"
	"github.com/feichai0017/document-converter/pkg/converters"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type ConversionHandler struct {
	service conversion.Converter
	logger  logger.Logger
}

type ConvertResponse struct {
	Filename     string              `json:"filename"`
	Size         int64               `json:"size"`
	Format       models.OutputFormat `json:"format"`
	DownloadName string              `json:"downloadName"`
	MimeType     string              `json:"mimeType"`
	Preview      string              `json:"preview"`
	Truncated    bool                `json:"truncated"`
	Images       int                 `json:"images"`
	Content      string              `json:"content"`
	Warnings     []string            `json:"warnings,omitempty"`
	DurationMs   int64               `json:"durationMs"`
}

func NewConversionHandler(service conversion.Converter, logger logger.Logger) *ConversionHandler {
	return &ConversionHandler{
		service: service,
		logger:  logger,
	}
}

// ValidateUpload reports whether a file would be accepted. Nothing is staged.
func (h *ConversionHandler) ValidateUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, h.logger, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		respondError(c, h.logger, http.StatusBadRequest, "Invalid file upload", err)
		return
	}

	result := h.service.Validate(fh.Filename, data)
	if !result.IsValid {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ConversionHandler) Convert(c *gin.Context) {
	doc, result, ok := h.run(c)
	if !ok {
		return
	}

	preview := converters.Preview(result.Content, result.Format)
	c.JSON(http.StatusOK, ConvertResponse{
		Filename:     doc.Filename,
		Size:         doc.Size,
		Format:       result.Format,
		DownloadName: result.DownloadName,
		MimeType:     result.MimeType,
		Preview:      preview.Text,
		Truncated:    preview.Truncated,
		Images:       result.Images,
		Content:      result.Content,
		Warnings:     result.Warnings,
		DurationMs:   result.Duration.Milliseconds(),
	})
}

// Download converts and returns the full result as an attachment.
func (h *ConversionHandler) Download(c *gin.Context) {
	_, result, ok := h.run(c)
	if !ok {
		return
	}
	attach(c, result.DownloadName, result.MimeType, []byte(result.Content))
}

func (h *ConversionHandler) run(c *gin.Context) (*models.UploadedDocument, *models.ConversionResult, bool) {
	var form ConvertForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, h.logger, http.StatusBadRequest, "Invalid conversion request", err)
		return nil, nil, false
	}
	data, err := readUpload(form.File)
	if err != nil {
		respondError(c, h.logger, http.StatusBadRequest, "Invalid file upload", err)
		return nil, nil, false
	}

	doc, err := h.service.HandleUpload(form.File.Filename, data)
	if err != nil {
		handleError(c, h.logger, "Upload rejected", err)
		return nil, nil, false
	}

	result, err := h.service.Convert(c.Request.Context(), doc, form.Options())
	if err != nil {
		handleError(c, h.logger, "Conversion failed", err)
		return nil, nil, false
	}
	return doc, result, true
}

func attach(c *gin.Context, name, mimeType string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, mimeType, data)
}
