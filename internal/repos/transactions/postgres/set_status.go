package transactions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
)

func (r *transactionsRepo) SetStatus(
	ctx context.Context,
	tx *sql.Tx,
	typ ledger.TxType,
	externalRef string,
	from, to ledger.TxStatus,
) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $4, updated_at = now()
		WHERE type = $1 AND external_ref = $2 AND status = $3
	`, typ, externalRef, from, to)
	if err != nil {
		return fmt.Errorf("set transaction status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 1 {
		return nil
	}

	var exists bool

	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE type = $1 AND external_ref = $2)
	`, typ, externalRef).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check transaction: %w", err)
	}

	if !exists {
		return transactions.ErrTransactionNotFound
	}

	return fmt.Errorf("%w: %s %s is not %s", transactions.ErrStatusConflict, typ, externalRef, from)
}
