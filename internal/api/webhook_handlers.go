package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/services/webhook"
)

const headerSignature = "Payment-Signature"

// PaymentWebhookHandler acknowledges only after the event is applied or
// durably recorded. A 5xx makes the processor redeliver.
func (h *HandlerProvider) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	outcome, err := h.svc.Webhooks.Handle(r.Context(), payload, r.Header.Get(headerSignature))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			writeError(w, http.StatusBadRequest, "invalid signature")
		default:
			// ErrPersistence and anything unexpected.
			h.writeServiceError(w, r, err)
		}

		return
	}

	// Rejected events are recorded for operators but still reported as bad input.
	if outcome == webhook.OutcomeRejected {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": string(outcome)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

type webhookFailureResponse struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"eventId"`
	EventType   string     `json:"eventType"`
	Error       string     `json:"error"`
	RetryCount  int        `json:"retryCount"`
	LastRetryAt *time.Time `json:"lastRetryAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toFailureResponse(f ledger.WebhookFailure) webhookFailureResponse {
	return webhookFailureResponse{
		ID:          f.ID,
		EventID:     f.EventID,
		EventType:   f.EventType,
		Error:       f.Error,
		RetryCount:  f.RetryCount,
		LastRetryAt: f.LastRetryAt,
		CreatedAt:   f.CreatedAt,
	}
}

func (h *HandlerProvider) ListWebhookFailuresHandler(w http.ResponseWriter, r *http.Request) {
	open, err := h.svc.Webhooks.ListOpen(r.Context(), parseLimit(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]webhookFailureResponse, 0, len(open))
	for _, f := range open {
		out = append(out, toFailureResponse(f))
	}

	writeJSON(w, http.StatusOK, map[string]any{"failures": out})
}

type webhookRetryResponse struct {
	FailureID  int64  `json:"failureId"`
	Resolved   bool   `json:"resolved"`
	RetryCount int    `json:"retryCount"`
	Outcome    string `json:"outcome,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *HandlerProvider) RetryWebhookFailureHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Webhooks.Retry(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookRetryResponse{
		FailureID:  res.FailureID,
		Resolved:   res.Resolved,
		RetryCount: res.RetryCount,
		Outcome:    string(res.Outcome),
		Error:      res.Error,
	})
}
