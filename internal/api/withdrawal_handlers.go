package api

import (
	"net/http"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/withdrawals"
)

type bankDetailsRequest struct {
	AccountHolder string `json:"accountHolder" validate:"required,max=140"`
	IBAN          string `json:"iban" validate:"required,min=15,max=34,alphanum"`
	BIC           string `json:"bic,omitempty" validate:"omitempty,min=8,max=11,alphanum"`
}

type withdrawalRequest struct {
	Amount      string             `json:"amount" validate:"required"`
	BankDetails bankDetailsRequest `json:"bankDetails" validate:"required"`
}

type withdrawalResponse struct {
	WithdrawalID  int64      `json:"withdrawalId"`
	Amount        string     `json:"amount"`
	Fee           string     `json:"fee"`
	NetAmount     string     `json:"netAmount"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retryCount"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

func toWithdrawalResponse(wd ledger.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		WithdrawalID:  wd.ID,
		Amount:        ledger.FormatAmount(wd.AmountMinor),
		Fee:           ledger.FormatAmount(wd.FeeMinor),
		NetAmount:     ledger.FormatAmount(wd.NetMinor),
		Status:        string(wd.Status),
		RetryCount:    wd.RetryCount,
		FailureReason: wd.FailureReason,
		CreatedAt:     wd.CreatedAt,
		ProcessedAt:   wd.ProcessedAt,
	}
}

func (h *HandlerProvider) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	wd, err := h.svc.Withdrawals.Create(r.Context(), userFrom(r.Context()), amount, ledger.BankDetails{
		AccountHolder: req.BankDetails.AccountHolder,
		IBAN:          req.BankDetails.IBAN,
		BIC:           req.BankDetails.BIC,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toWithdrawalResponse(wd))
}

func (h *HandlerProvider) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Withdrawals.ListForUser(r.Context(), userFrom(r.Context()), parseLimit(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]withdrawalResponse, 0, len(list))
	for _, wd := range list {
		out = append(out, toWithdrawalResponse(wd))
	}

	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}

// GetWithdrawalHandler answers 404 for requests owned by another user.
func (h *HandlerProvider) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wd, err := h.svc.Withdrawals.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if wd.UserID != userFrom(r.Context()) {
		h.writeServiceError(w, r, withdrawals.ErrWithdrawalNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toWithdrawalResponse(wd))
}

func (h *HandlerProvider) RetryWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wd, err := h.svc.Withdrawals.Retry(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toWithdrawalResponse(wd))
}
