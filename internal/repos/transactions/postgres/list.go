package transactions

import (
	"context"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/google/uuid"
)

func (r *transactionsRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return scanTransactions(rows)
}
