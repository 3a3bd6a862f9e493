package transactions

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/google/uuid"
)

var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrTransactionNotFound  = errors.New("transaction not found")
	// ErrStatusConflict is returned when a status transition finds the row
	// in a state other than the expected one.
	ErrStatusConflict = errors.New("transaction status conflict")
)

type NewTransaction struct {
	UserID      uuid.UUID
	Type        ledger.TxType
	AmountMinor int64
	Status      ledger.TxStatus
	ExternalRef string
	CaseID      uuid.NullUUID
	Metadata    map[string]string
}

type Transactions interface {
	// Insert appends a row and maps a (type, external_ref) collision to
	// ErrDuplicateTransaction.
	Insert(ctx context.Context, tx *sql.Tx, t NewTransaction) (int64, error)
	// InsertIdempotent appends a row unless one with the same
	// (type, external_ref) exists. inserted is false for the duplicate case.
	InsertIdempotent(ctx context.Context, tx *sql.Tx, t NewTransaction) (id int64, inserted bool, err error)
	SetStatus(ctx context.Context, tx *sql.Tx, typ ledger.TxType, externalRef string, from, to ledger.TxStatus) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Transaction, error)
	// LockUnsettledFees row-locks every completed fee transaction that no
	// settlement run has swept yet.
	LockUnsettledFees(ctx context.Context, tx *sql.Tx) ([]ledger.Transaction, error)
	MarkSettled(ctx context.Context, tx *sql.Tx, ids []int64, settlementID int64) error
	ListBySettlement(ctx context.Context, tx *sql.Tx, settlementID int64) ([]ledger.Transaction, error)
	// ReleaseSettlement clears settlement_id so the rows are swept again.
	ReleaseSettlement(ctx context.Context, tx *sql.Tx, settlementID int64) error
}
