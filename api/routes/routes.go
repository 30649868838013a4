package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/api/handlers"
	"github.com/feichai0017/document-converter/api/middleware"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type Config struct {
	CORSOrigins []string
	// MaxBodySize caps upload request bodies.
	MaxBodySize int64
}

// SetupRoutes registers every route and the global middleware.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger, cfg Config) {
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.GET("/", h.Index.Page)

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.Health.Check)

	uploads := v1.Group("", middleware.BodyLimit(cfg.MaxBodySize))
	{
		uploads.POST("/uploads/validate", h.Conversion.ValidateUpload)
		uploads.POST("/convert", h.Conversion.Convert)
		uploads.POST("/convert/download", h.Conversion.Download)
	}

	if h.Jobs == nil {
		return
	}
	jobs := v1.Group("/jobs")
	{
		jobs.POST("", middleware.BodyLimit(cfg.MaxBodySize), h.Jobs.Submit)
		jobs.GET("/:jobId", h.Jobs.GetStatus)
		jobs.GET("/:jobId/download", h.Jobs.Download)
		jobs.DELETE("/:jobId", h.Jobs.Cancel)
	}
}

// MaxBodySize leaves room above the upload limit so oversize files still
// reach validation and get an exact size in the rejection.
func MaxBodySize(maxUpload int64) int64 {
	return 2*maxUpload + 1<<20
}
