package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fastprodman/caseledger/internal/infra/metrics"
	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/processor"
)

type RetryResult struct {
	FailureID  int64
	Resolved   bool
	RetryCount int
	Outcome    Outcome
	Error      string
}

type SweepResult struct {
	Attempted int
	Resolved  int
}

// Retry replays a recorded failure. The signature is not checked again: only
// verified payloads are recorded. The retry counter is committed before the
// replay so it survives a failing attempt.
func (p *Processor) Retry(ctx context.Context, failureID int64) (RetryResult, error) {
	var (
		failure ledger.WebhookFailure
		count   int
	)

	err := pgutils.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		var err error

		failure, err = p.failures.LockByID(ctx, tx, failureID)
		if err != nil {
			return err
		}

		if failure.Resolved() {
			return ErrAlreadyResolved
		}

		count, err = p.failures.IncrementRetry(ctx, tx, failureID)

		return err
	})
	if err != nil {
		return RetryResult{}, fmt.Errorf("retry webhook failure %d: %w", failureID, err)
	}

	res := RetryResult{FailureID: failureID, RetryCount: count}

	outcome, applyErr := p.replay(ctx, failure)
	if applyErr != nil {
		metrics.WebhookRetries.WithLabelValues("failed").Inc()
		slog.Warn("webhook retry failed", "failure_id", failureID, "event_id", failure.EventID,
			"retry_count", count, "error", applyErr)

		res.Error = applyErr.Error()

		err = pgutils.WithTx(ctx, p.db, func(tx *sql.Tx) error {
			return p.failures.SetError(ctx, tx, failureID, applyErr.Error())
		})
		if err != nil {
			return res, fmt.Errorf("store retry error: %w", err)
		}

		if errors.Is(applyErr, ErrInvalidEvent) {
			res.Outcome = OutcomeRejected
		}

		return res, nil
	}

	res.Outcome = outcome

	// applied and duplicate resolve inside the apply tx; ignored has no tx.
	if outcome == OutcomeIgnored {
		err = pgutils.WithTx(ctx, p.db, func(tx *sql.Tx) error {
			return p.failures.Resolve(ctx, tx, failureID)
		})
		if err != nil {
			return res, fmt.Errorf("resolve webhook failure: %w", err)
		}
	}

	res.Resolved = true

	metrics.WebhookRetries.WithLabelValues(string(outcome)).Inc()
	slog.Info("webhook failure resolved", "failure_id", failureID, "event_id", failure.EventID,
		"retry_count", count, "outcome", outcome)

	return res, nil
}

func (p *Processor) replay(ctx context.Context, f ledger.WebhookFailure) (Outcome, error) {
	ev, err := processor.ParseEvent(f.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	return p.process(ctx, ev)
}

// RetryOpen replays open failures that are still under the automatic retry
// cap. Failures above the cap wait for an operator.
func (p *Processor) RetryOpen(ctx context.Context) (SweepResult, error) {
	open, err := p.failures.ListOpen(ctx, p.opts.MaxAutoRetries, sweepBatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list open failures: %w", err)
	}

	var (
		res  SweepResult
		errs []error
	)

	for _, f := range open {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		res.Attempted++

		r, err := p.Retry(ctx, f.ID)
		if err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				continue
			}

			errs = append(errs, err)

			continue
		}

		if r.Resolved {
			res.Resolved++
		}
	}

	return res, errors.Join(errs...)
}

// ListOpen returns unresolved failures for operators, including those above
// the automatic retry cap.
func (p *Processor) ListOpen(ctx context.Context, limit int) ([]ledger.WebhookFailure, error) {
	open, err := p.failures.ListOpen(ctx, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("list open failures: %w", err)
	}

	return open, nil
}
