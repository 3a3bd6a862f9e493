package withdrawals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/withdrawals"
	"github.com/google/uuid"
)

func (r *withdrawalsRepo) Get(ctx context.Context, id int64) (ledger.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Withdrawal{}, withdrawals.ErrWithdrawalNotFound
		}

		return ledger.Withdrawal{}, fmt.Errorf("get withdrawal: %w", err)
	}

	return w, nil
}

func (r *withdrawalsRepo) LockByID(ctx context.Context, tx *sql.Tx, id int64) (ledger.Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Withdrawal{}, withdrawals.ErrWithdrawalNotFound
		}

		return ledger.Withdrawal{}, fmt.Errorf("lock withdrawal: %w", err)
	}

	return w, nil
}

func (r *withdrawalsRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}

	return scanWithdrawals(rows)
}
