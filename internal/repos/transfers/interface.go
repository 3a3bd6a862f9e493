package transfers

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fastprodman/caseledger/internal/ledger"
)

var (
	ErrDuplicateRun  = errors.New("settlement run already recorded")
	ErrNoPendingRun  = errors.New("no pending settlement run")
	ErrRunNotPending = errors.New("settlement run is not pending")
)

type NewTransfer struct {
	RunRef             string
	AmountMinor        int64
	Status             ledger.TransferStatus
	ExternalTransferID string
	Error              string
}

type Transfers interface {
	Insert(ctx context.Context, tx *sql.Tx, t NewTransfer) (ledger.InternalTransfer, error)
	List(ctx context.Context, limit int) ([]ledger.InternalTransfer, error)
	// LockPending row-locks the run waiting on an unconfirmed transfer, or
	// returns ErrNoPendingRun.
	LockPending(ctx context.Context, tx *sql.Tx) (ledger.InternalTransfer, error)
	// Finish moves a pending run to completed or failed.
	Finish(ctx context.Context, tx *sql.Tx, id int64, status ledger.TransferStatus, externalID, errMsg string) (ledger.InternalTransfer, error)
}
