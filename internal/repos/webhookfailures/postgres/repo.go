package webhookfailures

import (
	"database/sql"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/webhookfailures"
)

var _ webhookfailures.Failures = (*failuresRepo)(nil)

type failuresRepo struct{ db *sql.DB }

func New(db *sql.DB) *failuresRepo {
	return &failuresRepo{db: db}
}

const failureColumns = `id, event_id, event_type, payload, error, retry_count, last_retry_at, resolved_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFailure(row rowScanner) (ledger.WebhookFailure, error) {
	var (
		f                     ledger.WebhookFailure
		payload               []byte
		lastRetry, resolvedAt sql.NullTime
	)

	err := row.Scan(&f.ID, &f.EventID, &f.EventType, &payload, &f.Error, &f.RetryCount,
		&lastRetry, &resolvedAt, &f.CreatedAt)
	if err != nil {
		return ledger.WebhookFailure{}, err
	}

	f.Payload = payload

	if lastRetry.Valid {
		t := lastRetry.Time
		f.LastRetryAt = &t
	}

	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}

	return f, nil
}

func expectOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return webhookfailures.ErrFailureNotFound
	}

	return nil
}
