package wallets

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/repos/wallets"
	"github.com/google/uuid"
)

// Reserve moves amount from balance to reserved. The balance guard is part of
// the UPDATE so the check and the write cannot be split.
func (r *walletsRepo) Reserve(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance - $2,
		    reserved = reserved + $2,
		    updated_at = now()
		WHERE user_id = $1
		  AND balance >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("reserve funds: %w", err)
	}

	return expectOne(res, wallets.ErrInsufficientBalance)
}
