package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/cases"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
	"github.com/fastprodman/caseledger/internal/repos/webhookfailures"
	"github.com/fastprodman/caseledger/internal/repos/withdrawals"
	"github.com/fastprodman/caseledger/internal/services/checkout"
	"github.com/fastprodman/caseledger/internal/services/webhook"
	"github.com/fastprodman/caseledger/internal/services/withdrawal"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	maxBodyBytes   = 1 << 20
	defaultListMax = 50
)

type CheckoutService interface {
	Create(ctx context.Context, req checkout.Request) (checkout.Session, error)
}

type WebhookService interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (webhook.Outcome, error)
	Retry(ctx context.Context, failureID int64) (webhook.RetryResult, error)
	ListOpen(ctx context.Context, limit int) ([]ledger.WebhookFailure, error)
}

type WithdrawalService interface {
	Create(ctx context.Context, userID uuid.UUID, amount int64, bank ledger.BankDetails) (ledger.Withdrawal, error)
	Get(ctx context.Context, id int64) (ledger.Withdrawal, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Withdrawal, error)
	Retry(ctx context.Context, id int64) (ledger.Withdrawal, error)
}

type BalanceService interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (ledger.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Transaction, error)
	CaseEscrow(ctx context.Context, caseID uuid.UUID) (int64, error)
}

type SettlementService interface {
	Run(ctx context.Context) (ledger.InternalTransfer, error)
	History(ctx context.Context, limit int) ([]ledger.InternalTransfer, error)
}

type Services struct {
	Checkout    CheckoutService
	Webhooks    WebhookService
	Withdrawals WithdrawalService
	Balances    BalanceService
	Settlements SettlementService
}

// HandlerProvider exposes the ledger services as HTTP handlers.
type HandlerProvider struct {
	svc      Services
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(svc Services) *HandlerProvider {
	return &HandlerProvider{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a size-limited body, rejecting unknown fields, and runs
// struct validation on the result.
func (h *HandlerProvider) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty body")
			return false
		}

		writeError(w, http.StatusBadRequest, "invalid JSON")

		return false
	}

	err = h.validate.Struct(dst)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: failed %s", fe.Field(), fe.Tag()))

			return false
		}

		writeError(w, http.StatusBadRequest, "invalid request")

		return false
	}

	return true
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}

	return id, nil
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > defaultListMax {
		return defaultListMax
	}

	return limit
}

// writeServiceError maps domain errors to status codes.
func (h *HandlerProvider) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *ledger.ValidationError
		rl   *ledger.RateLimitError
		pe   *ledger.ProcessorError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": verr.Error(),
			"field": verr.Field,
		})
	case errors.As(err, &rl):
		retryAfter := int(rl.ResetAt.Sub(h.now()).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "withdrawal limit reached",
			"resetAt": rl.ResetAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, wallets.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "insufficient balance")
	case errors.Is(err, withdrawal.ErrNotRetryable), errors.Is(err, withdrawal.ErrRetryLimitReached),
		errors.Is(err, webhook.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, cases.ErrCaseNotFound):
		writeError(w, http.StatusNotFound, "case not found")
	case errors.Is(err, withdrawals.ErrWithdrawalNotFound):
		writeError(w, http.StatusNotFound, "withdrawal not found")
	case errors.Is(err, webhookfailures.ErrFailureNotFound):
		writeError(w, http.StatusNotFound, "webhook failure not found")
	case errors.As(err, &pe):
		slog.Error("processor call failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "payment processor unavailable")
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
