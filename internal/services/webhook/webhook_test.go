package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fastprodman/caseledger/internal/infra/events"
	"github.com/fastprodman/caseledger/internal/infra/pgtestutil"
	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/processor"
	"github.com/fastprodman/caseledger/internal/services/fees"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const testSecret = "whsec_test"

var (
	donor  = uuid.MustParse("0b4a3e51-5d39-4f36-9a7b-0a2f6e1d2c10")
	caseID = uuid.MustParse("6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f")
	now    = time.Unix(1_760_000_000, 0)
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)

	return nil
}

func newProcessor(t *testing.T) (*Processor, *sql.DB, *capturePublisher) {
	t.Helper()

	db, cleanup := pgtestutil.NewTestDB(t)
	t.Cleanup(cleanup)

	policy, err := fees.NewPolicy(decimal.RequireFromString("0.10"), decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	pub := &capturePublisher{}

	p := New(db, policy, pub, Options{
		Secret:         testSecret,
		Tolerance:      5 * time.Minute,
		MaxAutoRetries: 2,
		Now:            func() time.Time { return now },
	})

	return p, db, pub
}

func sessionEvent(t *testing.T, eventID, sessionID string, amount int64, md map[string]string) []byte {
	t.Helper()

	return mustJSON(t, map[string]any{
		"id":   eventID,
		"type": processor.EventCheckoutCompleted,
		"data": map[string]any{"object": map[string]any{
			"id":             sessionID,
			"payment_status": "paid",
			"payment_intent": "pi_" + sessionID,
			"amount_total":   amount,
			"metadata":       md,
		}},
	})
}

func intentEvent(t *testing.T, eventID, intentID string, amount int64, md map[string]string) []byte {
	t.Helper()

	return mustJSON(t, map[string]any{
		"id":   eventID,
		"type": processor.EventPaymentSucceeded,
		"data": map[string]any{"object": map[string]any{
			"id":       intentID,
			"status":   "succeeded",
			"amount":   amount,
			"metadata": md,
		}},
	})
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return b
}

func withRef(md map[string]string, ref string) map[string]string {
	md[ledger.MetaCheckoutRef] = ref
	return md
}

func deliver(t *testing.T, p *Processor, payload []byte) (Outcome, error) {
	t.Helper()

	return p.Handle(t.Context(), payload, processor.Sign(payload, testSecret, now))
}

func queryInt(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()

	var v int64

	err := db.QueryRowContext(t.Context(), query, args...).Scan(&v)
	if err != nil {
		t.Fatalf("query %q: %v", query, err)
	}

	return v
}

func TestHandle_DepositDeliveredTwice(t *testing.T) {
	t.Parallel()

	p, db, pub := newProcessor(t)

	md := withRef(ledger.DepositIntent{UserID: donor, AmountMinor: 10_000}.Metadata(), "ref-dep-1")
	payload := sessionEvent(t, "evt_1", "cs_1", 10_000, md)

	for i, want := range []Outcome{OutcomeApplied, OutcomeDuplicate} {
		got, err := deliver(t, p, payload)
		if err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}

		if got != want {
			t.Fatalf("delivery %d: want %s, got %s", i+1, want, got)
		}
	}

	// The payment intent event for the same payment maps to the same key.
	got, err := deliver(t, p, intentEvent(t, "evt_2", "pi_cs_1", 10_000, md))
	if err != nil || got != OutcomeDuplicate {
		t.Fatalf("payment_intent.succeeded: want duplicate, got %s, %v", got, err)
	}

	if bal := queryInt(t, db, `SELECT balance FROM wallets WHERE user_id = $1`, donor); bal != 10_000 {
		t.Fatalf("balance: want 10000, got %d", bal)
	}

	if n := queryInt(t, db, `SELECT count(*) FROM transactions WHERE type = 'deposit'`); n != 1 {
		t.Fatalf("want exactly one deposit transaction, got %d", n)
	}

	if len(pub.events) != 1 || pub.events[0].Type != events.WalletCredited {
		t.Fatalf("want one wallet.credited event, got %+v", pub.events)
	}
}

func TestHandle_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	t.Parallel()

	p, db, _ := newProcessor(t)

	md := withRef(ledger.DepositIntent{UserID: donor, AmountMinor: 2_500}.Metadata(), "ref-dep-race")
	payload := sessionEvent(t, "evt_race", "cs_race", 2_500, md)

	var wg sync.WaitGroup

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.Handle(context.Background(), payload, processor.Sign(payload, testSecret, now))
			if err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}

	wg.Wait()

	if bal := queryInt(t, db, `SELECT balance FROM wallets WHERE user_id = $1`, donor); bal != 2_500 {
		t.Fatalf("balance: want 2500, got %d", bal)
	}
}

func TestHandle_CaseDonation(t *testing.T) {
	t.Parallel()

	p, db, pub := newProcessor(t)

	md := withRef(ledger.CaseDonationIntent{
		UserID: donor, CaseID: caseID, GrossMinor: 5_000, FeeMinor: 500, NetMinor: 4_500,
	}.Metadata(), "ref-don-1")

	got, err := deliver(t, p, sessionEvent(t, "evt_don", "cs_don", 5_000, md))
	if err != nil || got != OutcomeApplied {
		t.Fatalf("want applied, got %s, %v", got, err)
	}

	if escrow := queryInt(t, db, `SELECT balance FROM case_escrow WHERE case_id = $1`, caseID); escrow != 4_500 {
		t.Fatalf("escrow: want 4500, got %d", escrow)
	}

	fee := queryInt(t, db, `SELECT amount FROM transactions WHERE type = 'platform_fee' AND external_ref = 'ref-don-1'`)
	if fee != 500 {
		t.Fatalf("platform fee: want 500, got %d", fee)
	}

	if n := queryInt(t, db, `SELECT count(*) FROM wallets`); n != 0 {
		t.Fatalf("card donation must not touch wallets, got %d wallets", n)
	}

	if len(pub.events) != 1 || pub.events[0].CaseID != caseID.String() {
		t.Fatalf("want case.donated event, got %+v", pub.events)
	}
}

func TestHandle_CaseDonationPricedAtCheckoutRate(t *testing.T) {
	t.Parallel()

	// Priced at 8% at checkout; the processor now runs a 10% policy.
	p, db, _ := newProcessor(t)

	md := withRef(ledger.CaseDonationIntent{
		UserID: donor, CaseID: caseID, GrossMinor: 5_000, FeeMinor: 400, NetMinor: 4_600, FeeRate: "0.08",
	}.Metadata(), "ref-don-rate")

	got, err := deliver(t, p, sessionEvent(t, "evt_don_rate", "cs_don_rate", 5_000, md))
	if err != nil || got != OutcomeApplied {
		t.Fatalf("want applied, got %s, %v", got, err)
	}

	if escrow := queryInt(t, db, `SELECT balance FROM case_escrow WHERE case_id = $1`, caseID); escrow != 4_600 {
		t.Fatalf("escrow: want 4600, got %d", escrow)
	}

	fee := queryInt(t, db, `SELECT amount FROM transactions WHERE type = 'platform_fee' AND external_ref = 'ref-don-rate'`)
	if fee != 400 {
		t.Fatalf("platform fee: want 400, got %d", fee)
	}

	if n := queryInt(t, db, `SELECT count(*) FROM webhook_failures`); n != 0 {
		t.Fatalf("want no recorded failures, got %d", n)
	}
}

func TestHandle_PlatformDonation(t *testing.T) {
	t.Parallel()

	p, db, _ := newProcessor(t)

	md := withRef(ledger.PlatformDonationIntent{UserID: donor, AmountMinor: 700}.Metadata(), "ref-plat-1")

	got, err := deliver(t, p, sessionEvent(t, "evt_plat", "cs_plat", 700, md))
	if err != nil || got != OutcomeApplied {
		t.Fatalf("want applied, got %s, %v", got, err)
	}

	rev := queryInt(t, db, `SELECT amount FROM platform_revenue WHERE transaction_type = 'platform_donation' AND reference_id = 'ref-plat-1'`)
	if rev != 700 {
		t.Fatalf("revenue: want 700, got %d", rev)
	}
}

func TestHandle_InvalidSignature(t *testing.T) {
	t.Parallel()

	p, db, _ := newProcessor(t)

	md := withRef(ledger.DepositIntent{UserID: donor, AmountMinor: 10_000}.Metadata(), "ref-sig")
	payload := sessionEvent(t, "evt_sig", "cs_sig", 10_000, md)

	_, err := p.Handle(t.Context(), payload, processor.Sign(payload, "wrong", now))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}

	if n := queryInt(t, db, `SELECT count(*) FROM transactions`) + queryInt(t, db, `SELECT count(*) FROM webhook_failures`); n != 0 {
		t.Fatalf("unverified event must not write anything, got %d rows", n)
	}
}

func TestHandle_RejectedEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
	}{
		{
			name: "missing_metadata",
			payload: func(t *testing.T) []byte {
				return sessionEvent(t, "evt_rej", "cs_rej", 1_000, map[string]string{})
			},
		},
		{
			name: "fee_mismatch",
			payload: func(t *testing.T) []byte {
				md := withRef(ledger.CaseDonationIntent{
					UserID: donor, CaseID: caseID, GrossMinor: 5_000, FeeMinor: 100, NetMinor: 4_900,
				}.Metadata(), "ref-rej")

				return sessionEvent(t, "evt_rej", "cs_rej", 5_000, md)
			},
		},
		{
			name: "fee_mismatch_at_recorded_rate",
			payload: func(t *testing.T) []byte {
				md := withRef(ledger.CaseDonationIntent{
					UserID: donor, CaseID: caseID, GrossMinor: 5_000, FeeMinor: 100, NetMinor: 4_900, FeeRate: "0.08",
				}.Metadata(), "ref-rej")

				return sessionEvent(t, "evt_rej", "cs_rej", 5_000, md)
			},
		},
		{
			name: "amount_mismatch",
			payload: func(t *testing.T) []byte {
				md := withRef(ledger.DepositIntent{UserID: donor, AmountMinor: 10_000}.Metadata(), "ref-rej")
				return sessionEvent(t, "evt_rej", "cs_rej", 100, md)
			},
		},
		{
			name: "not_json",
			payload: func(*testing.T) []byte {
				return []byte("definitely not json")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, db, _ := newProcessor(t)

			got, err := deliver(t, p, tt.payload(t))
			if err != nil {
				t.Fatalf("rejected events are acknowledged, got %v", err)
			}

			if got != OutcomeRejected {
				t.Fatalf("want rejected, got %s", got)
			}

			if n := queryInt(t, db, `SELECT count(*) FROM transactions`); n != 0 {
				t.Fatalf("rejected event must not write transactions, got %d", n)
			}

			if n := queryInt(t, db, `SELECT count(*) FROM webhook_failures WHERE resolved_at IS NULL`); n != 1 {
				t.Fatalf("want 1 open failure, got %d", n)
			}
		})
	}
}

func TestHandle_IgnoredEvents(t *testing.T) {
	t.Parallel()

	p, db, _ := newProcessor(t)

	unpaid := mustJSON(t, map[string]any{
		"id": "evt_unpaid", "type": processor.EventCheckoutCompleted,
		"data": map[string]any{"object": map[string]any{"id": "cs_unpaid", "payment_status": "unpaid"}},
	})
	other := mustJSON(t, map[string]any{
		"id": "evt_other", "type": "customer.created", "data": map[string]any{"object": map[string]any{}},
	})

	for _, payload := range [][]byte{unpaid, other} {
		got, err := deliver(t, p, payload)
		if err != nil || got != OutcomeIgnored {
			t.Fatalf("want ignored, got %s, %v", got, err)
		}
	}

	if n := queryInt(t, db, `SELECT count(*) FROM webhook_failures`); n != 0 {
		t.Fatalf("ignored events are not failures, got %d", n)
	}
}

func TestHandle_PersistenceFailureThenRetry(t *testing.T) {
	t.Parallel()

	p, db, _ := newProcessor(t)

	md := withRef(ledger.CaseDonationIntent{
		UserID: donor, CaseID: caseID, GrossMinor: 5_000, FeeMinor: 500, NetMinor: 4_500,
	}.Metadata(), "ref-persist")
	payload := sessionEvent(t, "evt_persist", "cs_persist", 5_000, md)

	pgtestutil.MustExec(t, db, `ALTER TABLE case_escrow RENAME TO case_escrow_offline`)

	_, err := deliver(t, p, payload)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("want ErrPersistence, got %v", err)
	}

	if n := queryInt(t, db, `SELECT count(*) FROM transactions`); n != 0 {
		t.Fatalf("failed apply must roll back, got %d transactions", n)
	}

	failureID := queryInt(t, db, `SELECT id FROM webhook_failures WHERE event_id = 'evt_persist' AND resolved_at IS NULL`)

	res, err := p.Retry(t.Context(), failureID)
	if err != nil {
		t.Fatalf("retry while still broken: %v", err)
	}

	if res.Resolved || res.RetryCount != 1 || res.Error == "" {
		t.Fatalf("unexpected first retry result: %+v", res)
	}

	pgtestutil.MustExec(t, db, `ALTER TABLE case_escrow_offline RENAME TO case_escrow`)

	res, err = p.Retry(t.Context(), failureID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if !res.Resolved || res.Outcome != OutcomeApplied || res.RetryCount != 2 {
		t.Fatalf("unexpected second retry result: %+v", res)
	}

	if escrow := queryInt(t, db, `SELECT balance FROM case_escrow WHERE case_id = $1`, caseID); escrow != 4_500 {
		t.Fatalf("escrow: want 4500, got %d", escrow)
	}

	_, err = p.Retry(t.Context(), failureID)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("want ErrAlreadyResolved, got %v", err)
	}

	// A late organic redelivery is a no-op.
	got, err := deliver(t, p, payload)
	if err != nil || got != OutcomeDuplicate {
		t.Fatalf("late redelivery: want duplicate, got %s, %v", got, err)
	}
}

func TestHandle_RedeliveryResolvesOpenFailure(t *testing.T) {
	t.Parallel()

	p, db, _ := newProcessor(t)

	md := withRef(ledger.DepositIntent{UserID: donor, AmountMinor: 1_000}.Metadata(), "ref-redeliver")
	payload := sessionEvent(t, "evt_redeliver", "cs_redeliver", 1_000, md)

	pgtestutil.MustExec(t, db, `
		INSERT INTO webhook_failures (event_id, event_type, payload, error)
		VALUES ('evt_redeliver', 'checkout.session.completed', $1::jsonb, 'connection reset')
	`, string(payload))

	got, err := deliver(t, p, payload)
	if err != nil || got != OutcomeApplied {
		t.Fatalf("want applied, got %s, %v", got, err)
	}

	if n := queryInt(t, db, `SELECT count(*) FROM webhook_failures WHERE resolved_at IS NULL`); n != 0 {
		t.Fatalf("organic delivery must resolve the open failure, %d still open", n)
	}
}

func TestRetryOpen_RespectsCap(t *testing.T) {
	t.Parallel()

	p, db, _ := newProcessor(t)

	md := withRef(ledger.DepositIntent{UserID: donor, AmountMinor: 1_000}.Metadata(), "ref-sweep")
	good := sessionEvent(t, "evt_sweep", "cs_sweep", 1_000, md)

	pgtestutil.MustExec(t, db, `
		INSERT INTO webhook_failures (event_id, event_type, payload, error, retry_count) VALUES
			('evt_sweep', 'checkout.session.completed', $1::jsonb, 'timeout', 0),
			('evt_capped', 'checkout.session.completed', '{"id":"evt_capped"}'::jsonb, 'bad', 2),
			('evt_bad', 'checkout.session.completed', '{"id":"evt_bad","type":"checkout.session.completed","data":{"object":{"payment_status":"paid"}}}'::jsonb, 'bad', 0)
	`, string(good))

	res, err := p.RetryOpen(t.Context())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if res.Attempted != 2 || res.Resolved != 1 {
		t.Fatalf("want 2 attempted and 1 resolved, got %+v", res)
	}

	open, err := p.ListOpen(t.Context(), 10)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}

	if len(open) != 2 {
		t.Fatalf("want the capped and the bad failure open, got %d", len(open))
	}

	if bal := queryInt(t, db, `SELECT balance FROM wallets WHERE user_id = $1`, donor); bal != 1_000 {
		t.Fatalf("balance: want 1000, got %d", bal)
	}
}
