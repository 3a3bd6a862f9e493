package withdrawals

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
)

func (r *withdrawalsRepo) ClaimBatch(
	ctx context.Context,
	tx *sql.Tx,
	limit int,
	staleBefore time.Time,
) ([]ledger.Withdrawal, error) {
	rows, err := tx.QueryContext(ctx, `
		WITH claimed AS (
			SELECT id
			FROM withdrawal_requests
			WHERE status = $1
			   OR (status = $2 AND updated_at < $3)
			ORDER BY created_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE withdrawal_requests w
		SET status = $2, updated_at = now()
		FROM claimed
		WHERE w.id = claimed.id
		RETURNING `+qualified("w"),
		ledger.WithdrawalPending, ledger.WithdrawalProcessing, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim withdrawals: %w", err)
	}

	return scanWithdrawals(rows)
}

func qualified(alias string) string {
	return alias + `.id, ` + alias + `.user_id, ` + alias + `.amount, ` + alias + `.fee, ` +
		alias + `.net_amount, ` + alias + `.status, ` + alias + `.bank_details, ` +
		alias + `.retry_count, ` + alias + `.failure_reason, ` + alias + `.payout_ref, ` +
		alias + `.created_at, ` + alias + `.updated_at, ` + alias + `.processed_at`
}
