package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/repos/cases"
	"github.com/google/uuid"
)

var _ cases.Cases = (*casesRepo)(nil)

type casesRepo struct{ db *sql.DB }

func New(db *sql.DB) *casesRepo {
	return &casesRepo{db: db}
}

func (r *casesRepo) Status(ctx context.Context, caseID uuid.UUID) (cases.Status, error) {
	var status cases.Status

	err := r.db.QueryRowContext(ctx, `SELECT status FROM cases WHERE id = $1`, caseID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", cases.ErrCaseNotFound
		}

		return "", fmt.Errorf("get case status: %w", err)
	}

	return status, nil
}

func (r *casesRepo) Escrow(ctx context.Context, caseID uuid.UUID) (int64, error) {
	var (
		exists  bool
		balance int64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1),
		       COALESCE((SELECT balance FROM case_escrow WHERE case_id = $1), 0)
	`, caseID).Scan(&exists, &balance)
	if err != nil {
		return 0, fmt.Errorf("get case escrow: %w", err)
	}

	if !exists {
		return 0, cases.ErrCaseNotFound
	}

	return balance, nil
}

func (r *casesRepo) CreditEscrow(ctx context.Context, tx *sql.Tx, caseID uuid.UUID, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO case_escrow (case_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (case_id) DO UPDATE
		SET balance = case_escrow.balance + EXCLUDED.balance, updated_at = now()
	`, caseID, amount)
	if err != nil {
		return fmt.Errorf("credit case escrow: %w", err)
	}

	return nil
}
