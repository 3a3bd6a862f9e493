package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
)

func (r *transactionsRepo) Insert(ctx context.Context, tx *sql.Tx, t transactions.NewTransaction) (int64, error) {
	md, err := encodeMetadata(t.Metadata)
	if err != nil {
		return 0, err
	}

	var id int64

	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (user_id, type, amount, status, external_ref, case_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING id
	`, t.UserID, t.Type, t.AmountMinor, t.Status, t.ExternalRef, t.CaseID, md).Scan(&id)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return 0, transactions.ErrDuplicateTransaction
		}

		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	return id, nil
}

func (r *transactionsRepo) InsertIdempotent(
	ctx context.Context,
	tx *sql.Tx,
	t transactions.NewTransaction,
) (int64, bool, error) {
	md, err := encodeMetadata(t.Metadata)
	if err != nil {
		return 0, false, err
	}

	var id int64

	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (user_id, type, amount, status, external_ref, case_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT ON CONSTRAINT transactions_type_external_ref_key DO NOTHING
		RETURNING id
	`, t.UserID, t.Type, t.AmountMinor, t.Status, t.ExternalRef, t.CaseID, md).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("insert transaction: %w", err)
	}

	return id, true, nil
}
