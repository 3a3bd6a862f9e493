package api

import (
	"net/http"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/services/checkout"
	"github.com/google/uuid"
)

type checkoutRequest struct {
	Intent string `json:"intent" validate:"required,oneof=wallet_deposit donation"`
	Amount string `json:"amount" validate:"required"`
	CaseID string `json:"caseId,omitempty"`
}

type checkoutResponse struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
	CheckoutRef string `json:"checkoutRef"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	NetAmount   string `json:"netAmount"`
}

func (h *HandlerProvider) CreateCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var caseID uuid.NullUUID
	if req.CaseID != "" {
		id, err := uuid.Parse(req.CaseID)
		if err != nil || id == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid caseId")
			return
		}

		caseID = uuid.NullUUID{UUID: id, Valid: true}
	}

	sess, err := h.svc.Checkout.Create(r.Context(), checkout.Request{
		Intent:      req.Intent,
		UserID:      userFrom(r.Context()),
		AmountMinor: amount,
		CaseID:      caseID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		SessionID:   sess.SessionID,
		CheckoutURL: sess.CheckoutURL,
		CheckoutRef: sess.CheckoutRef,
		Amount:      ledger.FormatAmount(sess.Fee.Gross),
		Fee:         ledger.FormatAmount(sess.Fee.Fee),
		NetAmount:   ledger.FormatAmount(sess.Fee.Net),
	})
}
