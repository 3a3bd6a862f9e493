package processor

import (
	"context"
	"net/url"
	"strconv"
)

type TransferParams struct {
	AmountMinor    int64
	Source         string
	Destination    string
	Description    string
	IdempotencyKey string
}

type Transfer struct {
	ID string `json:"id"`
}

// CreateTransfer moves funds between two of the platform's own accounts.
func (c *Client) CreateTransfer(ctx context.Context, p TransferParams) (Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("currency", c.currency)
	form.Set("destination", p.Destination)

	if p.Source != "" {
		form.Set("source_account", p.Source)
	}

	if p.Description != "" {
		form.Set("description", p.Description)
	}

	var out Transfer

	err := c.post(ctx, "create_transfer", "/v1/transfers", form, p.IdempotencyKey, &out)
	if err != nil {
		return Transfer{}, err
	}

	return out, nil
}
