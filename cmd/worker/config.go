package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/caseledger/internal/config"
)

type workerConfig struct {
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" default:"30s"`
	MetricsPort     uint16        `env:"WORKER_METRICS_PORT" default:"9090"`

	// Cron specs; "@every <duration>" is accepted too.
	WithdrawalSchedule   string        `env:"WORKER_WITHDRAWAL_SCHEDULE" default:"@every 1m"`
	WithdrawalBatchSize  int           `env:"WORKER_WITHDRAWAL_BATCH_SIZE" default:"50"`
	WithdrawalStaleAfter time.Duration `env:"WORKER_WITHDRAWAL_STALE_AFTER" default:"15m"`
	WebhookRetrySchedule string        `env:"WORKER_WEBHOOK_RETRY_SCHEDULE" default:"@every 5m"`
	SettlementSchedule   string        `env:"WORKER_SETTLEMENT_SCHEDULE" default:"0 2 * * *"`
	SettlementRunOnStart bool          `env:"WORKER_SETTLEMENT_RUN_ON_START" default:"false"`

	Postgres  config.PostgresConfig
	Redis     config.RedisConfig
	Processor config.ProcessorConfig
	Fees      config.FeeConfig
	Limits    config.LimitsConfig
}
