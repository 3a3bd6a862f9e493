package cases

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

var ErrCaseNotFound = errors.New("case not found")

type Status string

const (
	StatusSubmitted     Status = "submitted"
	StatusInvestigating Status = "investigating"
	StatusOpen          Status = "open"
	StatusClosed        Status = "closed"
)

// Donatable reports whether a case in this status accepts new donations.
func (s Status) Donatable() bool {
	switch s {
	case StatusSubmitted, StatusInvestigating, StatusOpen:
		return true
	default:
		return false
	}
}

type Cases interface {
	Status(ctx context.Context, caseID uuid.UUID) (Status, error)
	// Escrow returns the case's escrowed total. A case that never received a
	// donation has zero escrow.
	Escrow(ctx context.Context, caseID uuid.UUID) (int64, error)
	CreditEscrow(ctx context.Context, tx *sql.Tx, caseID uuid.UUID, amount int64) error
}
