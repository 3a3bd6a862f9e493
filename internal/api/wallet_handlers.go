package api

import (
	"net/http"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type walletResponse struct {
	UserID   string `json:"userId"`
	Balance  string `json:"balance"`
	Reserved string `json:"reserved"`
}

func (h *HandlerProvider) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())

	wallet, err := h.svc.Balances.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// balance is spendable and already excludes reserved funds.
	writeJSON(w, http.StatusOK, walletResponse{
		UserID:   userID.String(),
		Balance:  ledger.FormatAmount(wallet.BalanceMinor),
		Reserved: ledger.FormatAmount(wallet.ReservedMinor),
	})
}

type transactionResponse struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status"`
	ExternalRef string    `json:"externalRef"`
	CaseID      string    `json:"caseId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *HandlerProvider) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.Balances.ListTransactions(r.Context(), userFrom(r.Context()), parseLimit(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		item := transactionResponse{
			ID:          t.ID,
			Type:        string(t.Type),
			Amount:      ledger.FormatAmount(t.AmountMinor),
			Status:      string(t.Status),
			ExternalRef: t.ExternalRef,
			CreatedAt:   t.CreatedAt,
		}
		if t.CaseID.Valid {
			item.CaseID = t.CaseID.UUID.String()
		}

		out = append(out, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *HandlerProvider) GetCaseEscrowHandler(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caseId")
		return
	}

	escrow, err := h.svc.Balances.CaseEscrow(r.Context(), caseID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"caseId": caseID.String(),
		"escrow": ledger.FormatAmount(escrow),
	})
}
