package api

import (
	"net/http"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
)

type transferResponse struct {
	ID                 int64     `json:"id"`
	RunRef             string    `json:"runRef"`
	Amount             string    `json:"amount"`
	Status             string    `json:"status"`
	ExternalTransferID string    `json:"externalTransferId,omitempty"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

func toTransferResponse(t ledger.InternalTransfer) transferResponse {
	return transferResponse{
		ID:                 t.ID,
		RunRef:             t.RunRef,
		Amount:             ledger.FormatAmount(t.AmountMinor),
		Status:             string(t.Status),
		ExternalTransferID: t.ExternalTransferID,
		Error:              t.Error,
		CreatedAt:          t.CreatedAt,
	}
}

// RunSettlementHandler triggers a settlement run. Failed runs are kept in
// the history; the caller only sees the mapped error.
func (h *HandlerProvider) RunSettlementHandler(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Settlements.Run(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransferResponse(run))
}

func (h *HandlerProvider) ListSettlementsHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.Settlements.History(r.Context(), parseLimit(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]transferResponse, 0, len(runs))
	for _, t := range runs {
		out = append(out, toTransferResponse(t))
	}

	writeJSON(w, http.StatusOK, map[string]any{"settlements": out})
}
