package transfers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/transfers"
)

var _ transfers.Transfers = (*transfersRepo)(nil)

type transfersRepo struct{ db *sql.DB }

func New(db *sql.DB) *transfersRepo {
	return &transfersRepo{db: db}
}

const transferColumns = `id, run_ref, amount, status, external_transfer_id, error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (ledger.InternalTransfer, error) {
	var t ledger.InternalTransfer

	err := row.Scan(&t.ID, &t.RunRef, &t.AmountMinor, &t.Status, &t.ExternalTransferID, &t.Error, &t.CreatedAt)
	if err != nil {
		return ledger.InternalTransfer{}, err
	}

	return t, nil
}

func (r *transfersRepo) Insert(ctx context.Context, tx *sql.Tx, in transfers.NewTransfer) (ledger.InternalTransfer, error) {
	t, err := scanTransfer(tx.QueryRowContext(ctx, `
		INSERT INTO internal_transfers (run_ref, amount, status, external_transfer_id, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+transferColumns,
		in.RunRef, in.AmountMinor, in.Status, in.ExternalTransferID, in.Error))
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return ledger.InternalTransfer{}, transfers.ErrDuplicateRun
		}

		return ledger.InternalTransfer{}, fmt.Errorf("insert internal transfer: %w", err)
	}

	return t, nil
}

func (r *transfersRepo) List(ctx context.Context, limit int) ([]ledger.InternalTransfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM internal_transfers
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list internal transfers: %w", err)
	}
	defer rows.Close()

	var out []ledger.InternalTransfer

	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan internal transfer: %w", err)
		}

		out = append(out, t)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate internal transfers: %w", err)
	}

	return out, nil
}
