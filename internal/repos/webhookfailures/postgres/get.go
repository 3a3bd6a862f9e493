package webhookfailures

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/webhookfailures"
)

func (r *failuresRepo) Get(ctx context.Context, id int64) (ledger.WebhookFailure, error) {
	f, err := scanFailure(r.db.QueryRowContext(ctx, `
		SELECT `+failureColumns+` FROM webhook_failures WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.WebhookFailure{}, webhookfailures.ErrFailureNotFound
		}

		return ledger.WebhookFailure{}, fmt.Errorf("get webhook failure: %w", err)
	}

	return f, nil
}

func (r *failuresRepo) LockByID(ctx context.Context, tx *sql.Tx, id int64) (ledger.WebhookFailure, error) {
	f, err := scanFailure(tx.QueryRowContext(ctx, `
		SELECT `+failureColumns+` FROM webhook_failures WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.WebhookFailure{}, webhookfailures.ErrFailureNotFound
		}

		return ledger.WebhookFailure{}, fmt.Errorf("lock webhook failure: %w", err)
	}

	return f, nil
}

func (r *failuresRepo) ListOpen(ctx context.Context, maxRetries, limit int) ([]ledger.WebhookFailure, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+failureColumns+`
		FROM webhook_failures
		WHERE resolved_at IS NULL
		  AND ($1 <= 0 OR retry_count < $1)
		ORDER BY created_at, id
		LIMIT $2
	`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook failures: %w", err)
	}
	defer rows.Close()

	var out []ledger.WebhookFailure

	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook failure: %w", err)
		}

		out = append(out, f)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate webhook failures: %w", err)
	}

	return out, nil
}
