package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/internal/service/conversion"
	"github.com/feichai0017/document-converter/internal/service/jobs"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type ErrorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	Kind           string `json:"kind,omitempty"`
	Classification string `json:"classification,omitempty"`
	Hint           string `json:"hint,omitempty"`
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	var ce *conversion.Error
	if errors.As(err, &ce) {
		switch ce.Kind {
		case conversion.KindValidationRejected:
			return http.StatusUnprocessableEntity
		case conversion.KindResourceExhausted:
			return http.StatusServiceUnavailable
		case conversion.KindCollaboratorUnavailable:
			return http.StatusNotImplemented
		case conversion.KindModelAcquisitionFailed:
			if ce.Class == conversion.ClassAccessDenied {
				return http.StatusForbidden
			}
			return http.StatusBadGateway
		case conversion.KindConversionTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobNotReady), errors.Is(err, jobs.ErrJobNotCancellable):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// handleError writes the error body and logs server-side failures.
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	respondError(c, log, status, message, err)
}

func respondError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	if err != nil {
		response.Message = err.Error()
	}

	var ce *conversion.Error
	if errors.As(err, &ce) {
		response.Error = string(ce.Kind)
		response.Kind = string(ce.Kind)
		if ce.Class != "" {
			response.Classification = string(ce.Class)
		}
		response.Hint = ce.Hint
	}

	l := logger.FromContext(c.Request.Context(), log)
	if status >= http.StatusInternalServerError {
		l.Error(message, logger.String("path", c.Request.URL.Path), logger.Error(err))
	} else {
		l.Info(message, logger.String("path", c.Request.URL.Path), logger.Error(err))
	}

	c.AbortWithStatusJSON(status, response)
}
