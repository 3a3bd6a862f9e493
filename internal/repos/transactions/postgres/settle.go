package transactions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
)

func (r *transactionsRepo) LockUnsettledFees(ctx context.Context, tx *sql.Tx) ([]ledger.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE settlement_id IS NULL
		  AND status = $1
		  AND type IN ($2, $3)
		ORDER BY id
		FOR UPDATE
	`, ledger.TxCompleted, ledger.TxPlatformFee, ledger.TxWithdrawalFee)
	if err != nil {
		return nil, fmt.Errorf("lock unsettled fees: %w", err)
	}

	return scanTransactions(rows)
}

func (r *transactionsRepo) MarkSettled(ctx context.Context, tx *sql.Tx, ids []int64, settlementID int64) error {
	if len(ids) == 0 {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET settlement_id = $1, updated_at = now()
		WHERE id = ANY($2) AND settlement_id IS NULL
	`, settlementID, ids)
	if err != nil {
		return fmt.Errorf("mark settled: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected != int64(len(ids)) {
		return fmt.Errorf("mark settled: updated %d of %d rows", affected, len(ids))
	}

	return nil
}

func (r *transactionsRepo) ListBySettlement(ctx context.Context, tx *sql.Tx, settlementID int64) ([]ledger.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE settlement_id = $1
		ORDER BY id
	`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("list settled transactions: %w", err)
	}

	return scanTransactions(rows)
}

// ReleaseSettlement hands a failed run's fees back to the next run.
func (r *transactionsRepo) ReleaseSettlement(ctx context.Context, tx *sql.Tx, settlementID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET settlement_id = NULL, updated_at = now()
		WHERE settlement_id = $1
	`, settlementID)
	if err != nil {
		return fmt.Errorf("release settlement %d: %w", settlementID, err)
	}

	return nil
}
