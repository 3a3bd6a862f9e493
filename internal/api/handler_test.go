package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/cases"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
	"github.com/fastprodman/caseledger/internal/services/checkout"
	"github.com/fastprodman/caseledger/internal/services/fees"
	"github.com/fastprodman/caseledger/internal/services/webhook"
	"github.com/fastprodman/caseledger/internal/services/withdrawal"
	"github.com/google/uuid"
)

const testAdminToken = "s3cret-admin"

type fixture struct {
	checkout    *fakeCheckout
	webhooks    *fakeWebhooks
	withdrawals *fakeWithdrawals
	balances    *fakeBalances
	settlements *fakeSettlements
	handler     http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		checkout:    &fakeCheckout{},
		webhooks:    &fakeWebhooks{},
		withdrawals: &fakeWithdrawals{byID: map[int64]ledger.Withdrawal{}},
		balances:    &fakeBalances{},
		settlements: &fakeSettlements{},
	}

	f.handler = NewRouter(Services{
		Checkout:    f.checkout,
		Webhooks:    f.webhooks,
		Withdrawals: f.withdrawals,
		Balances:    f.balances,
		Settlements: f.settlements,
	}, RouterOptions{AdminToken: testAdminToken, AllowedOrigins: []string{"http://localhost:3000"}})

	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer

	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		err := json.NewEncoder(&buf).Encode(b)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any

	err := json.Unmarshal(rec.Body.Bytes(), &out)
	if err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}

	return out
}

func userHeader(id uuid.UUID) map[string]string {
	return map[string]string{headerUserID: id.String()}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestCreateCheckout(t *testing.T) {
	t.Parallel()

	user := uuid.New()
	caseID := uuid.New()

	tests := []struct {
		name       string
		headers    map[string]string
		body       any
		svcErr     error
		wantStatus int
	}{
		{
			name:       "missing_user",
			body:       map[string]string{"intent": "wallet_deposit", "amount": "100.00"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bad_user_header",
			headers:    map[string]string{headerUserID: "42"},
			body:       map[string]string{"intent": "wallet_deposit", "amount": "100.00"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "created",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "50.00", "caseId": caseID.String()},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "unknown_intent",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "subscription", "amount": "50.00"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown_field",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "50.00", "currency": "usd"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad_case_id",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "50.00", "caseId": "case-1"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "nil_case_id",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "50.00", "caseId": uuid.Nil.String()},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "truncated_case_id",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "50.00", "caseId": caseID.String()[:35]},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "three_decimals",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "1.234"},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "below_minimum",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "1.00"},
			svcErr:     ledger.Invalid("amount", "must be at least 5.00"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "case_not_found",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "donation", "amount": "50.00", "caseId": caseID.String()},
			svcErr:     fmt.Errorf("check case: %w", cases.ErrCaseNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "processor_down",
			headers:    userHeader(user),
			body:       map[string]string{"intent": "wallet_deposit", "amount": "100.00"},
			svcErr:     &ledger.ProcessorError{Op: "create checkout session", StatusCode: 503, Message: "unavailable"},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			f.checkout.err = tt.svcErr
			f.checkout.sess = checkout.Session{
				SessionID:   "cs_test_1",
				CheckoutURL: "https://pay.example/cs_test_1",
				CheckoutRef: "ref-1",
				Fee:         fees.Breakdown{Gross: 5_000, Fee: 500, Net: 4_500},
			}

			rec := f.do(t, http.MethodPost, "/checkout", tt.body, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Fatalf("want %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}

			if tt.wantStatus != http.StatusCreated {
				return
			}

			body := decodeBody(t, rec)
			if body["sessionId"] != "cs_test_1" || body["fee"] != "5.00" || body["netAmount"] != "45.00" {
				t.Fatalf("unexpected body: %v", body)
			}

			if f.checkout.last.UserID != user || f.checkout.last.AmountMinor != 5_000 ||
				!f.checkout.last.CaseID.Valid || f.checkout.last.CaseID.UUID != caseID {
				t.Fatalf("service got %+v", f.checkout.last)
			}
		})
	}
}

func TestPaymentWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		outcome    webhook.Outcome
		err        error
		wantStatus int
	}{
		{name: "applied", outcome: webhook.OutcomeApplied, wantStatus: http.StatusOK},
		{name: "duplicate", outcome: webhook.OutcomeDuplicate, wantStatus: http.StatusOK},
		{name: "ignored", outcome: webhook.OutcomeIgnored, wantStatus: http.StatusOK},
		{name: "rejected", outcome: webhook.OutcomeRejected, wantStatus: http.StatusBadRequest},
		{name: "bad_signature", err: fmt.Errorf("%w: expired", webhook.ErrInvalidSignature), wantStatus: http.StatusBadRequest},
		{name: "persistence", err: fmt.Errorf("%w: db down", webhook.ErrPersistence), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			f.webhooks.outcome = tt.outcome
			f.webhooks.err = tt.err

			payload := `{"id":"evt_1","type":"checkout.session.completed"}`

			rec := f.do(t, http.MethodPost, "/webhooks/payments", payload, map[string]string{
				headerSignature: "t=1,v1=abc",
			})
			if rec.Code != tt.wantStatus {
				t.Fatalf("want %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}

			if string(f.webhooks.payload) != payload || f.webhooks.signature != "t=1,v1=abc" {
				t.Fatalf("payload or signature not passed through: %q %q", f.webhooks.payload, f.webhooks.signature)
			}
		})
	}
}

func TestCreateWithdrawal(t *testing.T) {
	t.Parallel()

	user := uuid.New()
	bank := map[string]string{"accountHolder": "Ana Perez", "iban": "DE89370400440532013000"}
	resetAt := time.Now().Add(3 * time.Hour)

	tests := []struct {
		name       string
		body       any
		svcErr     error
		wantStatus int
	}{
		{name: "created", body: map[string]any{"amount": "20.00", "bankDetails": bank}, wantStatus: http.StatusCreated},
		{name: "missing_bank", body: map[string]any{"amount": "20.00"}, wantStatus: http.StatusBadRequest},
		{
			name:       "short_iban",
			body:       map[string]any{"amount": "20.00", "bankDetails": map[string]string{"accountHolder": "A", "iban": "DE89"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "insufficient",
			body:       map[string]any{"amount": "20.00", "bankDetails": bank},
			svcErr:     fmt.Errorf("reserve: %w", wallets.ErrInsufficientBalance),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "below_minimum",
			body:       map[string]any{"amount": "1.00", "bankDetails": bank},
			svcErr:     ledger.Invalid("amount", "must be at least 10.00"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "rate_limited",
			body:       map[string]any{"amount": "20.00", "bankDetails": bank},
			svcErr:     &ledger.RateLimitError{Limit: 3, ResetAt: resetAt},
			wantStatus: http.StatusTooManyRequests,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			f.withdrawals.err = tt.svcErr
			f.withdrawals.created = ledger.Withdrawal{
				ID: 7, AmountMinor: 2_000, FeeMinor: 40, NetMinor: 1_960, Status: ledger.WithdrawalPending,
			}

			rec := f.do(t, http.MethodPost, "/withdrawals", tt.body, userHeader(user))
			if rec.Code != tt.wantStatus {
				t.Fatalf("want %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}

			switch tt.wantStatus {
			case http.StatusCreated:
				body := decodeBody(t, rec)
				if body["withdrawalId"] != float64(7) || body["netAmount"] != "19.60" || body["status"] != "pending" {
					t.Fatalf("unexpected body: %v", body)
				}

				if f.withdrawals.amount != 2_000 || f.withdrawals.bank.IBAN != "DE89370400440532013000" {
					t.Fatalf("service got amount=%d bank=%+v", f.withdrawals.amount, f.withdrawals.bank)
				}
			case http.StatusTooManyRequests:
				if rec.Header().Get("Retry-After") == "" {
					t.Fatalf("missing Retry-After header")
				}

				body := decodeBody(t, rec)
				if body["resetAt"] != resetAt.UTC().Format(time.RFC3339) {
					t.Fatalf("resetAt: got %v", body["resetAt"])
				}
			}
		})
	}
}

func TestGetWithdrawal_Ownership(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	other := uuid.New()

	f := newFixture()
	f.withdrawals.byID[3] = ledger.Withdrawal{ID: 3, UserID: owner, AmountMinor: 1_500, Status: ledger.WithdrawalFailed}

	rec := f.do(t, http.MethodGet, "/withdrawals/3", nil, userHeader(owner))
	if rec.Code != http.StatusOK {
		t.Fatalf("owner: want 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/withdrawals/3", nil, userHeader(other))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other user: want 404, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/withdrawals/abc", nil, userHeader(owner))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/withdrawals", nil, userHeader(other))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: want 200, got %d", rec.Code)
	}

	if list := decodeBody(t, rec)["withdrawals"].([]any); len(list) != 0 {
		t.Fatalf("other user must not see withdrawals, got %v", list)
	}
}

func TestGetWalletAndEscrow(t *testing.T) {
	t.Parallel()

	user := uuid.New()

	f := newFixture()
	f.balances.wallet = ledger.Wallet{BalanceMinor: 8_000, ReservedMinor: 2_000}
	f.balances.escrow = 4_500

	rec := f.do(t, http.MethodGet, "/wallet", nil, userHeader(user))
	if rec.Code != http.StatusOK {
		t.Fatalf("wallet: want 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["userId"] != user.String() || body["balance"] != "80.00" || body["reserved"] != "20.00" {
		t.Fatalf("unexpected wallet body: %v", body)
	}

	caseID := uuid.New()

	rec = f.do(t, http.MethodGet, "/cases/"+caseID.String()+"/escrow", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("escrow: want 200, got %d", rec.Code)
	}

	if body := decodeBody(t, rec); body["escrow"] != "45.00" {
		t.Fatalf("unexpected escrow body: %v", body)
	}

	f.balances.err = fmt.Errorf("get case escrow: %w", cases.ErrCaseNotFound)

	rec = f.do(t, http.MethodGet, "/cases/"+caseID.String()+"/escrow", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing case: want 404, got %d", rec.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()

	admin := map[string]string{headerAdminToken: testAdminToken}

	t.Run("rejects_missing_token", func(t *testing.T) {
		t.Parallel()

		f := newFixture()

		rec := f.do(t, http.MethodGet, "/admin/webhook-failures", nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}

		rec = f.do(t, http.MethodGet, "/admin/webhook-failures", nil, map[string]string{headerAdminToken: "nope"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("lists_failures", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		f.webhooks.open = []ledger.WebhookFailure{{ID: 1, EventID: "evt_1", EventType: "checkout.session.completed", RetryCount: 2}}

		rec := f.do(t, http.MethodGet, "/admin/webhook-failures", nil, admin)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}

		list := decodeBody(t, rec)["failures"].([]any)
		if len(list) != 1 || list[0].(map[string]any)["eventId"] != "evt_1" {
			t.Fatalf("unexpected failures: %v", list)
		}
	})

	t.Run("retries_webhook_failure", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		f.webhooks.retry = webhook.RetryResult{FailureID: 9, Resolved: true, RetryCount: 3, Outcome: webhook.OutcomeApplied}

		rec := f.do(t, http.MethodPost, "/admin/webhook-failures/9/retry", nil, admin)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}

		body := decodeBody(t, rec)
		if body["resolved"] != true || body["retryCount"] != float64(3) || body["outcome"] != "applied" {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("already_resolved", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		f.webhooks.retryErr = fmt.Errorf("retry webhook failure 9: %w", webhook.ErrAlreadyResolved)

		rec := f.do(t, http.MethodPost, "/admin/webhook-failures/9/retry", nil, admin)
		if rec.Code != http.StatusConflict {
			t.Fatalf("want 409, got %d", rec.Code)
		}
	})

	t.Run("withdrawal_retry_refused", func(t *testing.T) {
		t.Parallel()

		for _, err := range []error{withdrawal.ErrNotRetryable, withdrawal.ErrRetryLimitReached} {
			f := newFixture()
			f.withdrawals.err = err

			rec := f.do(t, http.MethodPost, "/admin/withdrawals/4/retry", nil, admin)
			if rec.Code != http.StatusConflict {
				t.Fatalf("%v: want 409, got %d", err, rec.Code)
			}
		}
	})

	t.Run("settlement_run", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		f.settlements.run = ledger.InternalTransfer{ID: 1, RunRef: "01J", AmountMinor: 540, Status: ledger.TransferCompleted}

		rec := f.do(t, http.MethodPost, "/admin/settlements", nil, admin)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}

		if body := decodeBody(t, rec); body["amount"] != "5.40" || body["status"] != "completed" {
			t.Fatalf("unexpected body: %v", body)
		}

		f.settlements.err = errors.Join(&ledger.ProcessorError{Op: "create transfer", StatusCode: 500, Message: "boom"})

		rec = f.do(t, http.MethodPost, "/admin/settlements", nil, admin)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("failed transfer: want 502, got %d", rec.Code)
		}
	})
}
