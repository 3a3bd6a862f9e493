package config

import (
	"time"

	"github.com/shopspring/decimal"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"10"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"1h"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" default:""`
	DB       int    `env:"REDIS_DB" default:"0"`
	Channel  string `env:"LEDGER_EVENTS_CHANNEL" default:"ledger_events"`
	Enabled  bool   `env:"LEDGER_EVENTS_ENABLED" default:"true"`
}

// ProcessorConfig points at a Stripe-compatible payment processor API.
type ProcessorConfig struct {
	BaseURL          string        `env:"PROCESSOR_BASE_URL" default:"https://api.stripe.com"`
	APIKey           string        `env:"PROCESSOR_API_KEY"`
	WebhookSecret    string        `env:"PROCESSOR_WEBHOOK_SECRET" default:""`
	WebhookTolerance time.Duration `env:"PROCESSOR_WEBHOOK_TOLERANCE" default:"5m"`
	Currency         string        `env:"PROCESSOR_CURRENCY" default:"eur"`
	Timeout          time.Duration `env:"PROCESSOR_TIMEOUT" default:"10s"`
	SuccessURL       string        `env:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/checkout/success"`
	CancelURL        string        `env:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	OperatingAccount string        `env:"PROCESSOR_OPERATING_ACCOUNT" default:""`
	RevenueAccount   string        `env:"PROCESSOR_REVENUE_ACCOUNT" default:""`
}

type FeeConfig struct {
	PlatformRate   decimal.Decimal `env:"FEE_PLATFORM_RATE" default:"0.10"`
	WithdrawalRate decimal.Decimal `env:"FEE_WITHDRAWAL_RATE" default:"0.02"`
}

type LimitsConfig struct {
	MinCheckoutMinor   int64 `env:"MIN_CHECKOUT_AMOUNT_MINOR" default:"500"`
	MinWithdrawalMinor int64 `env:"MIN_WITHDRAWAL_AMOUNT_MINOR" default:"1000"`
	MaxWithdrawalsDay  int   `env:"MAX_WITHDRAWALS_PER_DAY" default:"3"`
	MaxWithdrawRetries int   `env:"MAX_WITHDRAWAL_RETRIES" default:"5"`
	MaxWebhookRetries  int   `env:"MAX_WEBHOOK_AUTO_RETRIES" default:"5"`
}
