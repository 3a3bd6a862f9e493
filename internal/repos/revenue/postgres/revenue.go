package revenue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/revenue"
)

var _ revenue.Revenue = (*revenueRepo)(nil)

type revenueRepo struct{ db *sql.DB }

func New(db *sql.DB) *revenueRepo {
	return &revenueRepo{db: db}
}

func (r *revenueRepo) Insert(ctx context.Context, tx *sql.Tx, e ledger.RevenueEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO platform_revenue (amount, transaction_type, reference_id)
		VALUES ($1, $2, $3)
	`, e.AmountMinor, e.TransactionType, e.ReferenceID)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return revenue.ErrDuplicateRevenue
		}

		return fmt.Errorf("insert revenue: %w", err)
	}

	return nil
}
