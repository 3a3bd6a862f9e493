package webhookfailures

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fastprodman/caseledger/internal/repos/webhookfailures"
)

func (r *failuresRepo) Record(ctx context.Context, tx *sql.Tx, f webhookfailures.NewFailure) (int64, error) {
	payload := f.Payload
	if !json.Valid(payload) {
		// Keep undecodable bodies inspectable instead of losing them to a jsonb cast error.
		wrapped, err := json.Marshal(map[string]string{"raw": string(payload)})
		if err != nil {
			return 0, fmt.Errorf("wrap payload: %w", err)
		}

		payload = wrapped
	}

	var id int64

	err := tx.QueryRowContext(ctx, `
		INSERT INTO webhook_failures (event_id, event_type, payload, error)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (event_id) WHERE resolved_at IS NULL
		DO UPDATE SET error = EXCLUDED.error
		RETURNING id
	`, f.EventID, f.EventType, string(payload), f.Error).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record webhook failure: %w", err)
	}

	return id, nil
}
