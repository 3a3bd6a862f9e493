package webhookfailures

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/repos/webhookfailures"
)

func (r *failuresRepo) IncrementRetry(ctx context.Context, tx *sql.Tx, id int64) (int, error) {
	var count int

	err := tx.QueryRowContext(ctx, `
		UPDATE webhook_failures
		SET retry_count = retry_count + 1, last_retry_at = now()
		WHERE id = $1
		RETURNING retry_count
	`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, webhookfailures.ErrFailureNotFound
		}

		return 0, fmt.Errorf("increment webhook retry: %w", err)
	}

	return count, nil
}

func (r *failuresRepo) SetError(ctx context.Context, tx *sql.Tx, id int64, msg string) error {
	res, err := tx.ExecContext(ctx, `UPDATE webhook_failures SET error = $2 WHERE id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("set webhook failure error: %w", err)
	}

	return expectOne(res)
}

func (r *failuresRepo) Resolve(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE webhook_failures SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("resolve webhook failure: %w", err)
	}

	return expectOne(res)
}

func (r *failuresRepo) ResolveByEvent(ctx context.Context, tx *sql.Tx, eventID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE webhook_failures SET resolved_at = now() WHERE event_id = $1 AND resolved_at IS NULL
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("resolve webhook failures by event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}
