package withdrawals

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/withdrawals"
	"github.com/google/uuid"
)

func (r *withdrawalsRepo) Insert(ctx context.Context, tx *sql.Tx, in withdrawals.NewWithdrawal) (ledger.Withdrawal, error) {
	bank, err := json.Marshal(in.BankDetails)
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("encode bank details: %w", err)
	}

	w, err := scanWithdrawal(tx.QueryRowContext(ctx, `
		INSERT INTO withdrawal_requests (user_id, amount, fee, net_amount, status, bank_details)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING `+withdrawalColumns,
		in.UserID, in.AmountMinor, in.FeeMinor, in.NetMinor, ledger.WithdrawalPending, string(bank)))
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("insert withdrawal: %w", err)
	}

	return w, nil
}

func (r *withdrawalsRepo) CountSince(
	ctx context.Context,
	tx *sql.Tx,
	userID uuid.UUID,
	since time.Time,
) (int, time.Time, error) {
	var (
		count  int
		oldest sql.NullTime
	)

	err := tx.QueryRowContext(ctx, `
		SELECT count(*), min(created_at)
		FROM withdrawal_requests
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count withdrawals: %w", err)
	}

	return count, oldest.Time, nil
}
