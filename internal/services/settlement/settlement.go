// Package settlement sweeps collected fees from the operating pool into the
// platform revenue account.
package settlement

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fastprodman/caseledger/internal/infra/events"
	"github.com/fastprodman/caseledger/internal/infra/metrics"
	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/processor"
	"github.com/fastprodman/caseledger/internal/repos/revenue"
	pgrevenue "github.com/fastprodman/caseledger/internal/repos/revenue/postgres"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/caseledger/internal/repos/transactions/postgres"
	"github.com/fastprodman/caseledger/internal/repos/transfers"
	pgtransfers "github.com/fastprodman/caseledger/internal/repos/transfers/postgres"
	"github.com/oklog/ulid/v2"
)

// advisoryLockKey serializes settlement runs across every worker instance.
const advisoryLockKey int64 = 0x63617365_6c656467

const finalizeTimeout = 10 * time.Second

type Transfers interface {
	CreateTransfer(ctx context.Context, p processor.TransferParams) (processor.Transfer, error)
}

type Options struct {
	SourceAccount   string
	RevenueAccount  string
	TransferTimeout time.Duration
}

type Batch struct {
	db        *sql.DB
	txns      transactions.Transactions
	transfers transfers.Transfers
	revenue   revenue.Revenue
	client    Transfers
	events    events.Publisher
	opts      Options
}

func New(db *sql.DB, client Transfers, pub events.Publisher, opts Options) *Batch {
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 30 * time.Second
	}

	if pub == nil {
		pub = events.Nop{}
	}

	return &Batch{
		db:        db,
		txns:      pgtransactions.New(db),
		transfers: pgtransfers.New(db),
		revenue:   pgrevenue.New(db),
		client:    client,
		events:    pub,
		opts:      opts,
	}
}

// Run settles every completed fee that no earlier run swept. A run is claimed
// as pending before the processor is called and keeps its run_ref until the
// transfer is confirmed or declined, so an unconfirmed transfer is repeated
// under the same idempotency key.
func (b *Batch) Run(ctx context.Context) (ledger.InternalTransfer, error) {
	unlock, err := b.lock(ctx)
	if err != nil {
		return ledger.InternalTransfer{}, fmt.Errorf("settlement run: %w", err)
	}
	defer unlock()

	runRef := ulid.Make().String()

	run, err := b.claim(ctx, runRef)
	if err != nil {
		metrics.SettlementRuns.WithLabelValues(string(ledger.TransferFailed)).Inc()
		slog.Error("settlement run failed", "run_ref", runRef, "error", err)

		recErr := b.recordFailure(ctx, runRef, err)

		return ledger.InternalTransfer{}, errors.Join(fmt.Errorf("settlement run %s: %w", runRef, err), recErr)
	}

	if run.Status == ledger.TransferNoop {
		metrics.SettlementRuns.WithLabelValues(string(run.Status)).Inc()
		slog.Info("settlement run finished", "run_ref", run.RunRef, "status", run.Status, "amount_minor", 0)

		return run, nil
	}

	return b.transfer(ctx, run)
}

// lock holds a session advisory lock for the whole run, across the
// processor call, so concurrent runs wait instead of resuming the same
// pending transfer.
func (b *Batch) lock(ctx context.Context) (func(), error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	_, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire settlement lock: %w", err)
	}

	return func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()

		_, err := conn.ExecContext(uctx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
		if err != nil {
			slog.Error("release settlement lock", "error", err)
			// A bad connection is discarded by the pool, and the session lock with it.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}

		_ = conn.Close()
	}, nil
}

// claim returns the pending run left by an earlier attempt, or sweeps the
// unsettled fees into a new pending run. With nothing to sweep it records a
// noop run.
func (b *Batch) claim(ctx context.Context, runRef string) (ledger.InternalTransfer, error) {
	var run ledger.InternalTransfer

	err := pgutils.WithTx(ctx, b.db, func(tx *sql.Tx) error {
		pending, err := b.transfers.LockPending(ctx, tx)
		if err == nil {
			slog.Warn("resuming unconfirmed settlement run", "run_ref", pending.RunRef, "amount_minor", pending.AmountMinor)
			run = pending

			return nil
		}

		if !errors.Is(err, transfers.ErrNoPendingRun) {
			return err
		}

		swept, err := b.txns.LockUnsettledFees(ctx, tx)
		if err != nil {
			return err
		}

		var total int64

		ids := make([]int64, 0, len(swept))
		for _, t := range swept {
			total += t.AmountMinor
			ids = append(ids, t.ID)
		}

		if total == 0 {
			run, err = b.transfers.Insert(ctx, tx, transfers.NewTransfer{RunRef: runRef, Status: ledger.TransferNoop})
			return err
		}

		run, err = b.transfers.Insert(ctx, tx, transfers.NewTransfer{
			RunRef:      runRef,
			AmountMinor: total,
			Status:      ledger.TransferPending,
		})
		if err != nil {
			return err
		}

		return b.txns.MarkSettled(ctx, tx, ids, run.ID)
	})
	if err != nil {
		return ledger.InternalTransfer{}, fmt.Errorf("claim fees: %w", err)
	}

	return run, nil
}

func transferKey(runRef string) string {
	return "settlement-" + runRef
}

// transfer moves a pending run's amount to the revenue account. A declined
// transfer fails the run and releases its fees; any other error leaves the
// run pending for the next attempt.
func (b *Batch) transfer(ctx context.Context, run ledger.InternalTransfer) (ledger.InternalTransfer, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.opts.TransferTimeout)
	out, err := b.client.CreateTransfer(callCtx, processor.TransferParams{
		AmountMinor:    run.AmountMinor,
		Source:         b.opts.SourceAccount,
		Destination:    b.opts.RevenueAccount,
		Description:    "Fee settlement " + run.RunRef,
		IdempotencyKey: transferKey(run.RunRef),
	})
	cancel()

	// The transfer may have moved money; recording it must not depend on the caller.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer fcancel()

	if err != nil {
		var pe *ledger.ProcessorError
		if errors.As(err, &pe) && !pe.Temporary() {
			return ledger.InternalTransfer{}, b.decline(fctx, run, err)
		}

		metrics.SettlementRuns.WithLabelValues(string(ledger.TransferPending)).Inc()
		slog.Error("settlement transfer unconfirmed, run stays pending",
			"run_ref", run.RunRef, "amount_minor", run.AmountMinor, "error", err)

		return ledger.InternalTransfer{}, fmt.Errorf("settlement run %s: transfer fees: %w", run.RunRef, err)
	}

	done, err := b.complete(fctx, run, out.ID)
	if err != nil {
		metrics.SettlementRuns.WithLabelValues(string(ledger.TransferPending)).Inc()
		slog.Error("settlement transfer sent but not recorded, run stays pending",
			"run_ref", run.RunRef, "transfer_id", out.ID, "error", err)

		return ledger.InternalTransfer{}, fmt.Errorf("settlement run %s: %w", run.RunRef, err)
	}

	metrics.SettlementRuns.WithLabelValues(string(done.Status)).Inc()
	slog.Info("settlement run finished", "run_ref", done.RunRef, "status", done.Status, "amount_minor", done.AmountMinor)

	events.Emit(ctx, b.events, events.Event{
		Type:        events.SettlementCompleted,
		AmountMinor: done.AmountMinor,
		Reference:   done.RunRef,
		Attributes:  map[string]string{"transfer_id": done.ExternalTransferID},
	})

	return done, nil
}

// complete marks the run completed and recognizes one revenue row per swept
// transaction.
func (b *Batch) complete(ctx context.Context, run ledger.InternalTransfer, transferID string) (ledger.InternalTransfer, error) {
	var done ledger.InternalTransfer

	err := pgutils.WithTx(ctx, b.db, func(tx *sql.Tx) error {
		var err error

		done, err = b.transfers.Finish(ctx, tx, run.ID, ledger.TransferCompleted, transferID, "")
		if err != nil {
			return err
		}

		swept, err := b.txns.ListBySettlement(ctx, tx, run.ID)
		if err != nil {
			return err
		}

		for _, t := range swept {
			err = b.revenue.Insert(ctx, tx, ledger.RevenueEntry{
				AmountMinor:     t.AmountMinor,
				TransactionType: t.Type,
				ReferenceID:     strconv.FormatInt(t.ID, 10),
			})
			if err != nil {
				return fmt.Errorf("recognize revenue for transaction %d: %w", t.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		return ledger.InternalTransfer{}, fmt.Errorf("record transfer %s: %w", transferID, err)
	}

	return done, nil
}

func (b *Batch) decline(ctx context.Context, run ledger.InternalTransfer, cause error) error {
	metrics.SettlementRuns.WithLabelValues(string(ledger.TransferFailed)).Inc()
	slog.Error("settlement transfer declined", "run_ref", run.RunRef, "amount_minor", run.AmountMinor, "error", cause)

	runErr := fmt.Errorf("settlement run %s: transfer fees: %w", run.RunRef, cause)

	err := pgutils.WithTx(ctx, b.db, func(tx *sql.Tx) error {
		_, err := b.transfers.Finish(ctx, tx, run.ID, ledger.TransferFailed, "", cause.Error())
		if err != nil {
			return err
		}

		return b.txns.ReleaseSettlement(ctx, tx, run.ID)
	})
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("record declined settlement run: %w", err))
	}

	return runErr
}

// recordFailure audits a run that failed before anything was claimed.
func (b *Batch) recordFailure(ctx context.Context, runRef string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	err := pgutils.WithTx(ctx, b.db, func(tx *sql.Tx) error {
		_, err := b.transfers.Insert(ctx, tx, transfers.NewTransfer{
			RunRef: runRef,
			Status: ledger.TransferFailed,
			Error:  cause.Error(),
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("record failed settlement run: %w", err)
	}

	return nil
}

func (b *Batch) History(ctx context.Context, limit int) ([]ledger.InternalTransfer, error) {
	runs, err := b.transfers.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list settlement runs: %w", err)
	}

	return runs, nil
}
