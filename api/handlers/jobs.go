package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/service/conversion"
	"github.com/feichai0017/document-converter/internal/service/jobs"
	"github.com/feichai0017/document-converter/pkg/converters"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type JobHandler struct {
	conversion conversion.Converter
	jobs       jobs.JobService
	logger     logger.Logger
}

type JobResponse struct {
	JobID        string           `json:"jobId"`
	Status       models.JobStatus `json:"status"`
	Filename     string           `json:"filename"`
	Size         int64            `json:"size"`
	Format       string           `json:"format"`
	DownloadName string           `json:"downloadName,omitempty"`
	Images       int              `json:"images"`
	Error        string           `json:"error,omitempty"`
	Kind         string           `json:"kind,omitempty"`
	Hint         string           `json:"hint,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
	CreatedAt    string           `json:"createdAt"`
	UpdatedAt    string           `json:"updatedAt"`
}

func NewJobHandler(conversionService conversion.Converter, jobService jobs.JobService, logger logger.Logger) *JobHandler {
	return &JobHandler{
		conversion: conversionService,
		jobs:       jobService,
		logger:     logger,
	}
}

func toJobResponse(job *models.ConversionJob) JobResponse {
	return JobResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Filename:     job.Filename,
		Size:         job.Size,
		Format:       string(job.Options.OutputFormat),
		DownloadName: job.DownloadName,
		Images:       job.Images,
		Error:        job.Error,
		Kind:         job.ErrorKind,
		Hint:         job.Hint,
		Warnings:     job.Warnings,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

// Submit validates the upload up front so rejections never reach the queue.
func (h *JobHandler) Submit(c *gin.Context) {
	var form ConvertForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, h.logger, http.StatusBadRequest, "Invalid conversion request", err)
		return
	}
	data, err := readUpload(form.File)
	if err != nil {
		respondError(c, h.logger, http.StatusBadRequest, "Invalid file upload", err)
		return
	}

	doc, err := h.conversion.HandleUpload(form.File.Filename, data)
	if err != nil {
		handleError(c, h.logger, "Upload rejected", err)
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), doc, form.Options())
	if err != nil {
		handleError(c, h.logger, "Failed to submit job", err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

func (h *JobHandler) GetStatus(c *gin.Context) {
	job, err := h.jobs.GetStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) Download(c *gin.Context) {
	rc, job, err := h.jobs.GetResult(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, "Failed to get result", err)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		handleError(c, h.logger, "Failed to read result", err)
		return
	}
	attach(c, job.DownloadName, converters.DownloadMimeType, data)
}

func (h *JobHandler) Cancel(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		handleError(c, h.logger, "Failed to cancel job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled",
		"jobId":   jobID,
	})
}
