// Package webhook turns verified payment processor events into ledger
// entries. Every event is applied at most once: the primary transaction
// insert on (type, external_ref) is the idempotency gate, and events that
// cannot be applied are recorded for the retry path.
package webhook

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/caseledger/internal/infra/events"
	"github.com/fastprodman/caseledger/internal/infra/metrics"
	"github.com/fastprodman/caseledger/internal/processor"
	"github.com/fastprodman/caseledger/internal/repos/cases"
	pgcases "github.com/fastprodman/caseledger/internal/repos/cases/postgres"
	"github.com/fastprodman/caseledger/internal/repos/revenue"
	pgrevenue "github.com/fastprodman/caseledger/internal/repos/revenue/postgres"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/caseledger/internal/repos/transactions/postgres"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
	pgwallets "github.com/fastprodman/caseledger/internal/repos/wallets/postgres"
	"github.com/fastprodman/caseledger/internal/repos/webhookfailures"
	pgfailures "github.com/fastprodman/caseledger/internal/repos/webhookfailures/postgres"
	"github.com/fastprodman/caseledger/internal/services/fees"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidEvent marks a verified event whose content cannot be applied.
	ErrInvalidEvent = errors.New("invalid payment event")
	// ErrPersistence means the event was not applied and the processor should redeliver.
	ErrPersistence     = errors.New("webhook persistence failure")
	ErrAlreadyResolved = errors.New("webhook failure already resolved")
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

const (
	recordTimeout  = 5 * time.Second
	snippetBytes   = 256
	sweepBatchSize = 100
)

type Options struct {
	Secret         string
	Tolerance      time.Duration
	MaxAutoRetries int
	Now            func() time.Time
}

type Processor struct {
	db       *sql.DB
	wallets  wallets.Wallets
	txns     transactions.Transactions
	cases    cases.Cases
	revenue  revenue.Revenue
	failures webhookfailures.Failures
	policy   fees.Policy
	events   events.Publisher
	opts     Options
}

func New(db *sql.DB, policy fees.Policy, pub events.Publisher, opts Options) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if pub == nil {
		pub = events.Nop{}
	}

	return &Processor{
		db:       db,
		wallets:  pgwallets.New(db),
		txns:     pgtransactions.New(db),
		cases:    pgcases.New(db),
		revenue:  pgrevenue.New(db),
		failures: pgfailures.New(db),
		policy:   policy,
		events:   pub,
		opts:     opts,
	}
}

// Handle verifies, parses and applies one delivery.
//
// A nil error means the delivery may be acknowledged: the effect was
// applied, was already applied, is not ours, or was recorded as rejected.
// ErrInvalidSignature and ErrPersistence must not be acknowledged.
func (p *Processor) Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	err := processor.VerifySignature(payload, signatureHeader, p.opts.Secret, p.opts.Tolerance, p.opts.Now())
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid_signature").Inc()
		slog.Warn("webhook signature rejected", "error", err, "payload_snippet", snippet(payload))

		return "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	ev, err := processor.ParseEvent(payload)
	if err != nil {
		ev = processor.Event{ID: "malformed-" + digest(payload), Type: "unknown"}
		return p.reject(ctx, ev, payload, err)
	}

	outcome, err := p.process(ctx, ev)
	switch {
	case err == nil:
		metrics.WebhookEvents.WithLabelValues(string(outcome)).Inc()
		return outcome, nil
	case errors.Is(err, ErrInvalidEvent):
		return p.reject(ctx, ev, payload, err)
	default:
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		slog.Error("webhook apply failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)

		recErr := p.recordFailure(ctx, ev, payload, err)
		if recErr != nil {
			return "", fmt.Errorf("%w: %w", ErrPersistence, errors.Join(err, recErr))
		}

		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func (p *Processor) reject(ctx context.Context, ev processor.Event, payload []byte, cause error) (Outcome, error) {
	metrics.WebhookEvents.WithLabelValues(string(OutcomeRejected)).Inc()
	slog.Warn("verified webhook event rejected", "event_id", ev.ID, "event_type", ev.Type, "error", cause)

	err := p.recordFailure(ctx, ev, payload, cause)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return OutcomeRejected, nil
}

// recordFailure writes in its own transaction on a context that outlives
// the request, so a client disconnect cannot lose the record.
func (p *Processor) recordFailure(ctx context.Context, ev processor.Event, payload []byte, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin failure tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := p.failures.Record(ctx, tx, webhookfailures.NewFailure{
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   payload,
		Error:     cause.Error(),
	})
	if err != nil {
		slog.Error("webhook failure not recorded", "event_id", ev.ID, "error", err, "cause", cause)
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit failure tx: %w", err)
	}

	slog.Info("webhook failure recorded", "failure_id", id, "event_id", ev.ID)

	return nil
}

func snippet(payload []byte) string {
	if len(payload) > snippetBytes {
		return string(payload[:snippetBytes])
	}

	return string(payload)
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
