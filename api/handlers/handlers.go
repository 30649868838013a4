package handlers

import (
	"github.com/feichai0017/document-converter/internal/service/conversion"
	"github.com/feichai0017/document-converter/internal/service/jobs"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type Handlers struct {
	Conversion *ConversionHandler
	// Jobs is nil when asynchronous jobs are disabled.
	Jobs   *JobHandler
	Health *HealthHandler
	Index  *IndexHandler
}

func NewHandlers(
	conversionService conversion.Converter,
	jobService jobs.JobService,
	logger logger.Logger,
) *Handlers {
	h := &Handlers{
		Conversion: NewConversionHandler(conversionService, logger),
		Health:     NewHealthHandler(conversionService),
		Index:      NewIndexHandler(),
	}
	if jobService != nil {
		h.Jobs = NewJobHandler(conversionService, jobService, logger)
	}
	return h
}
