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

	"github.com/fastprodman/caseledger/internal/api"
	"github.com/fastprodman/caseledger/internal/infra/events"
	"github.com/fastprodman/caseledger/internal/infra/logging"
	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/processor"
	pgcases "github.com/fastprodman/caseledger/internal/repos/cases/postgres"
	"github.com/fastprodman/caseledger/internal/services/balance"
	"github.com/fastprodman/caseledger/internal/services/checkout"
	"github.com/fastprodman/caseledger/internal/services/fees"
	"github.com/fastprodman/caseledger/internal/services/settlement"
	"github.com/fastprodman/caseledger/internal/services/webhook"
	"github.com/fastprodman/caseledger/internal/services/withdrawal"
	"github.com/fastprodman/caseledger/pkg/envconf"
	"github.com/fastprodman/caseledger/pkg/shutdownqueue"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel, "api")

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

	// --- Services ---
	svc := api.Services{
		Checkout: checkout.New(client, pgcases.New(dbConns), policy, checkout.Options{
			MinAmountMinor: cfg.Limits.MinCheckoutMinor,
			Timeout:        cfg.Processor.Timeout,
		}),
		Webhooks: webhook.New(dbConns, policy, pub, webhook.Options{
			Secret:         cfg.Processor.WebhookSecret,
			Tolerance:      cfg.Processor.WebhookTolerance,
			MaxAutoRetries: cfg.Limits.MaxWebhookRetries,
		}),
		Withdrawals: withdrawal.New(dbConns, client, policy, pub, withdrawal.Options{
			MinAmountMinor: cfg.Limits.MinWithdrawalMinor,
			MaxPerDay:      cfg.Limits.MaxWithdrawalsDay,
			MaxRetries:     cfg.Limits.MaxWithdrawRetries,
		}),
		Balances: balance.New(dbConns),
		Settlements: settlement.New(dbConns, client, pub, settlement.Options{
			SourceAccount:  cfg.Processor.OperatingAccount,
			RevenueAccount: cfg.Processor.RevenueAccount,
		}),
	}

	if cfg.Processor.WebhookSecret == "" {
		slog.Warn("PROCESSOR_WEBHOOK_SECRET is empty; every webhook delivery will be rejected")
	}

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, svc, api.RouterOptions{
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	// Registered last so it drains first.
	shutdownqueue.AddNamed("http server", func(c context.Context) error {
		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port)

	select {
	case <-ctx.Done():
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
