package wallets

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/repos/wallets"
	"github.com/google/uuid"
)

// Release returns reserved funds to the spendable balance.
func (r *walletsRepo) Release(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance + $2,
		    reserved = reserved - $2,
		    updated_at = now()
		WHERE user_id = $1
		  AND reserved >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}

	return expectOne(res, wallets.ErrReservationMismatch)
}

// ConsumeReservation drops reserved funds that have been paid out.
func (r *walletsRepo) ConsumeReservation(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET reserved = reserved - $2,
		    updated_at = now()
		WHERE user_id = $1
		  AND reserved >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("consume reservation: %w", err)
	}

	return expectOne(res, wallets.ErrReservationMismatch)
}
