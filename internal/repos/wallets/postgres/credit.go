package wallets

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/repos/wallets"
	"github.com/google/uuid"
)

func (r *walletsRepo) Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance + $2, updated_at = now()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}

	return expectOne(res, wallets.ErrWalletNotFound)
}

func expectOne(res sql.Result, notAffected error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return notAffected
	}

	return nil
}
