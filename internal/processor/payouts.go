package processor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fastprodman/caseledger/internal/ledger"
)

type PayoutParams struct {
	AmountMinor    int64
	BankDetails    ledger.BankDetails
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type Payout struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_message"`
}

func (c *Client) CreatePayout(ctx context.Context, p PayoutParams) (Payout, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("currency", c.currency)
	form.Set("method", "standard")
	form.Set("destination[account_holder_name]", p.BankDetails.AccountHolder)
	form.Set("destination[iban]", p.BankDetails.IBAN)

	if p.BankDetails.BIC != "" {
		form.Set("destination[bic]", p.BankDetails.BIC)
	}

	if p.Description != "" {
		form.Set("description", p.Description)
	}

	setMetadata(form, "metadata", p.Metadata)

	var out Payout

	err := c.post(ctx, "create_payout", "/v1/payouts", form, p.IdempotencyKey, &out)
	if err != nil {
		return Payout{}, err
	}

	switch out.Status {
	case "failed", "canceled":
		reason := out.FailureReason
		if reason == "" {
			reason = "payout " + out.Status
		}

		return Payout{}, &ledger.ProcessorError{
			Op:         "create_payout",
			StatusCode: 200,
			Message:    reason,
			Err:        fmt.Errorf("payout %s: %s", out.ID, reason),
		}
	}

	return out, nil
}
