package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/service/conversion"
	"github.com/feichai0017/document-converter/internal/service/jobs"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
	"github.com/feichai0017/document-converter/pkg/worker"
)

func main() {
	serverCfg := config.GetServerConfig()
	queueCfg := config.GetQueueConfig()

	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding(serverCfg.LogEncoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	conversionService, err := conversion.GetService(log.Named("conversion"))
	if err != nil {
		log.Error("Failed to create conversion service", logger.Error(err))
		os.Exit(1)
	}
	defer conversionService.Close()

	jobService, err := jobs.GetService(conversionService, log.Named("jobs"))
	if err != nil {
		log.Error("Failed to create job service", logger.Error(err))
		os.Exit(1)
	}
	defer jobService.Close()

	workerCfg := &worker.Config{
		Redis:       queue.ConfigFromEnv().RedisOpt(),
		Concurrency: queueCfg.Concurrency,
		Queues: map[string]int{
			queue.QueueDefault: 1,
		},
		CleanupSpec: queueCfg.CleanupSpec,
	}

	conversionWorker, err := worker.NewConversionWorker(workerCfg, jobService, log.Named("worker"))
	if err != nil {
		log.Error("Failed to create conversion worker", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conversionWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started",
		logger.Int("concurrency", queueCfg.Concurrency),
		logger.String("cleanup", queueCfg.CleanupSpec),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	conversionWorker.Stop()
}
