package webhookfailures

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/fastprodman/caseledger/internal/ledger"
)

var ErrFailureNotFound = errors.New("webhook failure not found")

type NewFailure struct {
	EventID   string
	EventType string
	Payload   json.RawMessage
	Error     string
}

type Failures interface {
	// Record stores a failure. If the event already has an open failure, its
	// error text is refreshed instead and the existing id is returned.
	Record(ctx context.Context, tx *sql.Tx, f NewFailure) (int64, error)
	Get(ctx context.Context, id int64) (ledger.WebhookFailure, error)
	LockByID(ctx context.Context, tx *sql.Tx, id int64) (ledger.WebhookFailure, error)
	// IncrementRetry bumps retry_count and last_retry_at and returns the new count.
	IncrementRetry(ctx context.Context, tx *sql.Tx, id int64) (int, error)
	SetError(ctx context.Context, tx *sql.Tx, id int64, msg string) error
	Resolve(ctx context.Context, tx *sql.Tx, id int64) error
	// ResolveByEvent resolves the open failure for eventID, if any.
	ResolveByEvent(ctx context.Context, tx *sql.Tx, eventID string) (bool, error)
	// ListOpen returns unresolved failures. maxRetries <= 0 means no cap.
	ListOpen(ctx context.Context, maxRetries, limit int) ([]ledger.WebhookFailure, error)
}
