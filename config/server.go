package config

import (
	"strings"
	"sync"
	"time"
)

var (
	serverOnce   sync.Once
	serverConfig *ServerConfig
)

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogEncoding     string
	LogFile         string
	CORSOrigins     []string
	// AsyncJobs enables the /jobs routes, which need redis and object storage.
	AsyncJobs bool
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()

		serverConfig = &ServerConfig{
			Addr:            getEnv("SERVER_ADDR", ":8080"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			LogEncoding:     getEnv("LOG_ENCODING", "json"),
			LogFile:         getEnv("LOG_FILE", "logs/app.log"),
			CORSOrigins:     strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
			AsyncJobs:       getEnvBool("ASYNC_JOBS", false),
		}
	})
	return serverConfig
}
