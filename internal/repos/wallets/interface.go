package wallets

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWalletNotFound      = errors.New("wallet not found")
	// ErrReservationMismatch means a finalize/release asked for more than is reserved.
	ErrReservationMismatch = errors.New("reservation mismatch")
)

type Wallets interface {
	Get(ctx context.Context, userID uuid.UUID) (ledger.Wallet, error)
	Ensure(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error
	LockForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (ledger.Wallet, error)
	Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error
	Reserve(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error
	Release(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error
	ConsumeReservation(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64) error
}
