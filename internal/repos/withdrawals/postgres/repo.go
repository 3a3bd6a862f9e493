package withdrawals

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/withdrawals"
)

var _ withdrawals.Withdrawals = (*withdrawalsRepo)(nil)

type withdrawalsRepo struct{ db *sql.DB }

func New(db *sql.DB) *withdrawalsRepo {
	return &withdrawalsRepo{db: db}
}

const withdrawalColumns = `id, user_id, amount, fee, net_amount, status, bank_details,
	retry_count, failure_reason, payout_ref, created_at, updated_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (ledger.Withdrawal, error) {
	var (
		w           ledger.Withdrawal
		bank        []byte
		processedAt sql.NullTime
	)

	err := row.Scan(&w.ID, &w.UserID, &w.AmountMinor, &w.FeeMinor, &w.NetMinor, &w.Status, &bank,
		&w.RetryCount, &w.FailureReason, &w.PayoutRef, &w.CreatedAt, &w.UpdatedAt, &processedAt)
	if err != nil {
		return ledger.Withdrawal{}, err
	}

	err = json.Unmarshal(bank, &w.BankDetails)
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("decode bank details: %w", err)
	}

	if processedAt.Valid {
		t := processedAt.Time
		w.ProcessedAt = &t
	}

	return w, nil
}

func scanWithdrawals(rows *sql.Rows) ([]ledger.Withdrawal, error) {
	defer rows.Close()

	var out []ledger.Withdrawal

	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}

		out = append(out, w)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}

	return out, nil
}

func expectTransition(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return withdrawals.ErrInvalidTransition
	}

	return nil
}
