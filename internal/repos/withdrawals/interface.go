package withdrawals

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/google/uuid"
)

var (
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrInvalidTransition is returned when the row is not in the state the
	// transition starts from.
	ErrInvalidTransition = errors.New("invalid withdrawal state transition")
)

type NewWithdrawal struct {
	UserID      uuid.UUID
	AmountMinor int64
	FeeMinor    int64
	NetMinor    int64
	BankDetails ledger.BankDetails
}

type Withdrawals interface {
	Insert(ctx context.Context, tx *sql.Tx, w NewWithdrawal) (ledger.Withdrawal, error)
	// CountSince returns how many requests the user created at or after since,
	// and the creation time of the oldest of them.
	CountSince(ctx context.Context, tx *sql.Tx, userID uuid.UUID, since time.Time) (int, time.Time, error)
	Get(ctx context.Context, id int64) (ledger.Withdrawal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Withdrawal, error)
	LockByID(ctx context.Context, tx *sql.Tx, id int64) (ledger.Withdrawal, error)
	// ClaimBatch moves up to limit pending requests, and processing requests
	// not touched since staleBefore, to processing. Rows locked by another
	// claimer are skipped.
	ClaimBatch(ctx context.Context, tx *sql.Tx, limit int, staleBefore time.Time) ([]ledger.Withdrawal, error)
	// MarkProcessing moves a failed request back to processing.
	MarkProcessing(ctx context.Context, tx *sql.Tx, id int64) error
	MarkCompleted(ctx context.Context, tx *sql.Tx, id int64, payoutRef string) error
	// MarkFailed records the reason and bumps retry_count.
	MarkFailed(ctx context.Context, tx *sql.Tx, id int64, reason string) error
}
