package transactions

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

const txColumns = `id, user_id, type, amount, status, external_ref, case_id, metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		t        ledger.Transaction
		metadata []byte
	)

	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.AmountMinor, &t.Status,
		&t.ExternalRef, &t.CaseID, &metadata, &t.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}

	if len(metadata) > 0 {
		err = json.Unmarshal(metadata, &t.Metadata)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()

	var out []ledger.Transaction

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		out = append(out, t)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return out, nil
}

func encodeMetadata(md map[string]string) (string, error) {
	if md == nil {
		return "{}", nil
	}

	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	return string(b), nil
}
