package transfers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/transfers"
)

func (r *transfersRepo) LockPending(ctx context.Context, tx *sql.Tx) (ledger.InternalTransfer, error) {
	t, err := scanTransfer(tx.QueryRowContext(ctx, `
		SELECT `+transferColumns+`
		FROM internal_transfers
		WHERE status = $1
		FOR UPDATE
	`, ledger.TransferPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.InternalTransfer{}, transfers.ErrNoPendingRun
		}

		return ledger.InternalTransfer{}, fmt.Errorf("lock pending transfer: %w", err)
	}

	return t, nil
}

func (r *transfersRepo) Finish(
	ctx context.Context,
	tx *sql.Tx,
	id int64,
	status ledger.TransferStatus,
	externalID string,
	errMsg string,
) (ledger.InternalTransfer, error) {
	if status != ledger.TransferCompleted && status != ledger.TransferFailed {
		return ledger.InternalTransfer{}, fmt.Errorf("finish transfer %d: unexpected status %s", id, status)
	}

	t, err := scanTransfer(tx.QueryRowContext(ctx, `
		UPDATE internal_transfers
		SET status = $2, external_transfer_id = $3, error = $4
		WHERE id = $1 AND status = $5
		RETURNING `+transferColumns,
		id, status, externalID, errMsg, ledger.TransferPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.InternalTransfer{}, transfers.ErrRunNotPending
		}

		return ledger.InternalTransfer{}, fmt.Errorf("finish transfer %d: %w", id, err)
	}

	return t, nil
}
