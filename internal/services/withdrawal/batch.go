package withdrawal

import (
	"context"
	"database/sql"
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
	"github.com/fastprodman/caseledger/internal/repos/transactions"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
)

const finalizeTimeout = 10 * time.Second

type BatchResult struct {
	Claimed   int
	Completed int
	Failed    int
}

// ProcessBatch claims queued requests and pays them out one by one. Requests
// stuck in processing longer than StaleAfter are claimed again; the payout
// idempotency key keeps the processor from paying them twice.
func (e *Engine) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var claimed []ledger.Withdrawal

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error

		claimed, err = e.withdrawals.ClaimBatch(ctx, tx, e.opts.BatchSize, e.opts.Now().Add(-e.opts.StaleAfter))

		return err
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("claim withdrawal batch: %w", err)
	}

	res := BatchResult{Claimed: len(claimed)}

	var errs []error

	for _, w := range claimed {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		final, err := e.payout(ctx, w)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		switch final.Status {
		case ledger.WithdrawalCompleted:
			res.Completed++
		case ledger.WithdrawalFailed:
			res.Failed++
		}
	}

	if res.Claimed > 0 {
		slog.Info("withdrawal batch processed", "claimed", res.Claimed, "completed", res.Completed, "failed", res.Failed)
	}

	return res, errors.Join(errs...)
}

// payout calls the processor for a processing request and records the
// result. A timeout is recorded as a failure.
func (e *Engine) payout(ctx context.Context, w ledger.Withdrawal) (ledger.Withdrawal, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.PayoutTimeout)
	po, err := e.payouts.CreatePayout(callCtx, processor.PayoutParams{
		AmountMinor:    w.NetMinor,
		BankDetails:    w.BankDetails,
		Description:    "Withdrawal " + strconv.FormatInt(w.ID, 10),
		Metadata:       map[string]string{"withdrawal_id": strconv.FormatInt(w.ID, 10)},
		IdempotencyKey: payoutKey(w),
	})
	cancel()

	// The payout may have moved money; recording it must not depend on the caller.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer fcancel()

	if err != nil {
		slog.Warn("withdrawal payout failed", "withdrawal_id", w.ID, "retry_count", w.RetryCount, "error", err)
		return e.finalize(fctx, w, "", err.Error())
	}

	return e.finalize(fctx, w, po.ID, "")
}

// finalize settles the reservation. An empty failureReason means success.
func (e *Engine) finalize(ctx context.Context, w ledger.Withdrawal, payoutRef, failureReason string) (ledger.Withdrawal, error) {
	var final ledger.Withdrawal

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		_, err := e.wallets.LockForUpdate(ctx, tx, w.UserID)
		if err != nil {
			return err
		}

		current, err := e.withdrawals.LockByID(ctx, tx, w.ID)
		if err != nil {
			return err
		}

		if current.Status != ledger.WithdrawalProcessing || current.RetryCount != w.RetryCount {
			slog.Warn("withdrawal finalized concurrently", "withdrawal_id", w.ID, "status", current.Status)
			final = current

			return nil
		}

		ref := attemptRef(current)

		if failureReason != "" {
			err = e.wallets.Release(ctx, tx, w.UserID, current.AmountMinor)
			if err != nil {
				return fmt.Errorf("release reservation: %w", err)
			}

			err = e.withdrawals.MarkFailed(ctx, tx, current.ID, failureReason)
			if err != nil {
				return err
			}

			err = e.txns.SetStatus(ctx, tx, ledger.TxWithdrawal, ref, ledger.TxPending, ledger.TxFailed)
			if err != nil {
				return err
			}

			final = current
			final.Status = ledger.WithdrawalFailed
			final.FailureReason = failureReason
			final.RetryCount++

			return nil
		}

		err = e.wallets.ConsumeReservation(ctx, tx, w.UserID, current.AmountMinor)
		if err != nil {
			return fmt.Errorf("consume reservation: %w", err)
		}

		err = e.withdrawals.MarkCompleted(ctx, tx, current.ID, payoutRef)
		if err != nil {
			return err
		}

		err = e.txns.SetStatus(ctx, tx, ledger.TxWithdrawal, ref, ledger.TxPending, ledger.TxCompleted)
		if err != nil {
			return err
		}

		if current.FeeMinor > 0 {
			_, err = e.txns.Insert(ctx, tx, transactions.NewTransaction{
				UserID:      current.UserID,
				Type:        ledger.TxWithdrawalFee,
				AmountMinor: current.FeeMinor,
				Status:      ledger.TxCompleted,
				ExternalRef: baseRef(current.ID),
				Metadata:    map[string]string{"payout_ref": payoutRef},
			})
			if err != nil {
				return fmt.Errorf("insert withdrawal fee: %w", err)
			}
		}

		final = current
		final.Status = ledger.WithdrawalCompleted
		final.PayoutRef = payoutRef

		return nil
	})
	if err != nil {
		slog.Error("withdrawal finalize failed", "withdrawal_id", w.ID, "error", err)
		return ledger.Withdrawal{}, fmt.Errorf("finalize withdrawal %d: %w", w.ID, err)
	}

	switch final.Status {
	case ledger.WithdrawalCompleted:
		metrics.Withdrawals.WithLabelValues("completed").Inc()
		slog.Info("withdrawal completed", "withdrawal_id", final.ID, "payout_ref", final.PayoutRef)
		events.Emit(ctx, e.events, withdrawalEvent(events.WithdrawalCompleted, final))
	case ledger.WithdrawalFailed:
		metrics.Withdrawals.WithLabelValues("failed").Inc()
		events.Emit(ctx, e.events, withdrawalEvent(events.WithdrawalFailed, final))
	}

	return final, nil
}

// Retry re-reserves a failed request and pays it out again.
func (e *Engine) Retry(ctx context.Context, id int64) (ledger.Withdrawal, error) {
	w, err := e.withdrawals.Get(ctx, id)
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("retry withdrawal: %w", err)
	}

	err = pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		wallet, err := e.wallets.LockForUpdate(ctx, tx, w.UserID)
		if err != nil {
			return err
		}

		w, err = e.withdrawals.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}

		if w.Status != ledger.WithdrawalFailed {
			return fmt.Errorf("%w: status is %s", ErrNotRetryable, w.Status)
		}

		if w.RetryCount >= e.opts.MaxRetries {
			return fmt.Errorf("%w: %d of %d", ErrRetryLimitReached, w.RetryCount, e.opts.MaxRetries)
		}

		if wallet.BalanceMinor < w.AmountMinor {
			return wallets.ErrInsufficientBalance
		}

		err = e.wallets.Reserve(ctx, tx, w.UserID, w.AmountMinor)
		if err != nil {
			return err
		}

		err = e.withdrawals.MarkProcessing(ctx, tx, id)
		if err != nil {
			return err
		}

		w.Status = ledger.WithdrawalProcessing

		return e.insertAttempt(ctx, tx, w)
	})
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("retry withdrawal: %w", err)
	}

	metrics.Withdrawals.WithLabelValues("retried").Inc()
	slog.Info("withdrawal retry started", "withdrawal_id", id, "retry_count", w.RetryCount)

	return e.payout(ctx, w)
}
