package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/api/handlers"
	"github.com/feichai0017/document-converter/api/routes"
	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/service/conversion"
	"github.com/feichai0017/document-converter/internal/service/jobs"
	"github.com/feichai0017/document-converter/pkg/logger"
)

func main() {
	serverCfg := config.GetServerConfig()
	converterCfg := config.GetConverterConfig()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding(serverCfg.LogEncoding),
		logger.WithOutputPaths([]string{"stdout", serverCfg.LogFile}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	conversionService, err := conversion.GetService(log.Named("conversion"))
	if err != nil {
		log.Fatal("Failed to create conversion service", logger.Error(err))
	}
	defer conversionService.Close()

	var jobService jobs.JobService
	if serverCfg.AsyncJobs {
		svc, err := jobs.GetService(conversionService, log.Named("jobs"))
		if err != nil {
			log.Fatal("Failed to create job service", logger.Error(err))
		}
		defer svc.Close()
		jobService = svc
	}

	h := handlers.NewHandlers(conversionService, jobService, log.Named("http"))
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, log.Named("http"), routes.Config{
		CORSOrigins: serverCfg.CORSOrigins,
		MaxBodySize: routes.MaxBodySize(converterCfg.MaxUploadSize),
	})

	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting",
			logger.String("addr", serverCfg.Addr),
			logger.String("profile", converterCfg.Profile),
			logger.String("backend", converterCfg.Backend),
			logger.Bool("asyncJobs", serverCfg.AsyncJobs),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
