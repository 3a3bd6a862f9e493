package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fastprodman/caseledger/internal/infra/events"
	"github.com/fastprodman/caseledger/internal/infra/logging"
	"github.com/fastprodman/caseledger/internal/infra/metrics"
	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/processor"
	"github.com/fastprodman/caseledger/internal/services/fees"
	"github.com/fastprodman/caseledger/internal/services/settlement"
	"github.com/fastprodman/caseledger/internal/services/webhook"
	"github.com/fastprodman/caseledger/internal/services/withdrawal"
	"github.com/fastprodman/caseledger/pkg/envconf"
	"github.com/fastprodman/caseledger/pkg/shutdownqueue"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running worker: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	_ = godotenv.Load()

	cfg := new(workerConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel, "worker")

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	dbConns, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.AddNamed("postgres", func(context.Context) error {
		return dbConns.Close()
	})

	var pub events.Publisher = events.Nop{}

	if cfg.Redis.Enabled {
		rdb, rerr := events.OpenRedis(ctx, cfg.Redis)
		if rerr != nil {
			return fmt.Errorf("open redis: %w", rerr)
		}

		shutdownqueue.AddNamed("redis", func(context.Context) error {
			return rdb.Close()
		})

		pub = events.NewRedisPublisher(rdb, cfg.Redis.Channel)
	}

	policy, err := fees.NewPolicy(cfg.Fees.PlatformRate, cfg.Fees.WithdrawalRate)
	if err != nil {
		return fmt.Errorf("fee policy: %w", err)
	}

	client := processor.New(cfg.Processor)

	payouts := withdrawal.New(dbConns, client, policy, pub, withdrawal.Options{
		MinAmountMinor: cfg.Limits.MinWithdrawalMinor,
		MaxPerDay:      cfg.Limits.MaxWithdrawalsDay,
		MaxRetries:     cfg.Limits.MaxWithdrawRetries,
		BatchSize:      cfg.WithdrawalBatchSize,
		StaleAfter:     cfg.WithdrawalStaleAfter,
	})
	webhooks := webhook.New(dbConns, policy, pub, webhook.Options{
		Secret:         cfg.Processor.WebhookSecret,
		Tolerance:      cfg.Processor.WebhookTolerance,
		MaxAutoRetries: cfg.Limits.MaxWebhookRetries,
	})
	settlements := settlement.New(dbConns, client, pub, settlement.Options{
		SourceAccount:  cfg.Processor.OperatingAccount,
		RevenueAccount: cfg.Processor.RevenueAccount,
	})

	// --- Metrics endpoint ---
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		serr := metricsSrv.ListenAndServe()
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", serr)
		}
	}()

	shutdownqueue.AddNamed("metrics server", metricsSrv.Shutdown)

	// --- Jobs ---
	jobCtx, cancelJobs := context.WithCancel(ctx)

	sched, err := newScheduler(jobCtx, []job{
		{
			name: "withdrawal-payouts",
			spec: cfg.WithdrawalSchedule,
			run: func(ctx context.Context) error {
				_, err := payouts.ProcessBatch(ctx)
				return err
			},
		},
		{
			name: "webhook-retries",
			spec: cfg.WebhookRetrySchedule,
			run: func(ctx context.Context) error {
				res, err := webhooks.RetryOpen(ctx)
				if res.Attempted > 0 {
					slog.Info("webhook failures retried", "attempted", res.Attempted, "resolved", res.Resolved)
				}

				return err
			},
		},
		{
			name:       "fee-settlement",
			spec:       cfg.SettlementSchedule,
			runOnStart: cfg.SettlementRunOnStart,
			run: func(ctx context.Context) error {
				_, err := settlements.Run(ctx)
				return err
			},
		},
	})
	if err != nil {
		cancelJobs()
		return fmt.Errorf("init scheduler: %w", err)
	}

	sched.Start()

	// Registered last so jobs stop before the pool closes.
	shutdownqueue.AddNamed("scheduler", func(c context.Context) error {
		cancelJobs()
		return sched.Stop(c)
	})

	slog.Info("worker started", "metrics_port", cfg.MetricsPort)

	<-ctx.Done()

	return nil
}
