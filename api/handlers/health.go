package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/internal/service/conversion"
)

type HealthHandler struct {
	service conversion.Converter
}

func NewHealthHandler(service conversion.Converter) *HealthHandler {
	return &HealthHandler{service: service}
}

// Check always answers 200 so a degraded converter stays visible to the UI.
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Health(c.Request.Context()))
}
