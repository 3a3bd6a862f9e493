package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/caseledger/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" default:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" default:"10s"`
	RequestTimeout  time.Duration `env:"APP_REQUEST_TIMEOUT" default:"60s"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	Postgres  config.PostgresConfig
	Redis     config.RedisConfig
	Processor config.ProcessorConfig
	Fees      config.FeeConfig
	Limits    config.LimitsConfig
}
