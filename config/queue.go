package config

import (
	"sync"
	"time"
)

var (
	queueOnce   sync.Once
	queueConfig *QueueConfig
)

type QueueConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	Concurrency     int
	StatusTTL       time.Duration
	RetentionPeriod time.Duration
	// CleanupSpec schedules the retention sweep on the worker.
	CleanupSpec string
}

func GetQueueConfig() *QueueConfig {
	queueOnce.Do(func() {
		loadEnv()

		queueConfig = &QueueConfig{
			RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:   getEnv("REDIS_PASSWORD", ""),
			RedisDB:         getEnvInt("REDIS_DB", 0),
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 2),
			StatusTTL:       getEnvDuration("JOB_STATUS_TTL", 24*time.Hour),
			RetentionPeriod: getEnvDuration("JOB_RETENTION", 24*time.Hour),
			CleanupSpec:     getEnv("JOB_CLEANUP_SPEC", "@every 1h"),
		}
	})
	return queueConfig
}
