package withdrawals

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
)

func (r *withdrawalsRepo) MarkProcessing(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, failure_reason = '', updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, ledger.WithdrawalProcessing, ledger.WithdrawalFailed)
	if err != nil {
		return fmt.Errorf("mark withdrawal processing: %w", err)
	}

	return expectTransition(res)
}

func (r *withdrawalsRepo) MarkCompleted(ctx context.Context, tx *sql.Tx, id int64, payoutRef string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, payout_ref = $3, failure_reason = '', processed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, ledger.WithdrawalCompleted, payoutRef, ledger.WithdrawalProcessing)
	if err != nil {
		return fmt.Errorf("mark withdrawal completed: %w", err)
	}

	return expectTransition(res)
}

func (r *withdrawalsRepo) MarkFailed(ctx context.Context, tx *sql.Tx, id int64, reason string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, failure_reason = $3, retry_count = retry_count + 1,
		    processed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, ledger.WithdrawalFailed, reason, ledger.WithdrawalProcessing)
	if err != nil {
		return fmt.Errorf("mark withdrawal failed: %w", err)
	}

	return expectTransition(res)
}
