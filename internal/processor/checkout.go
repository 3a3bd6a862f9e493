package processor

import (
	"context"
	"net/url"
	"strconv"
)

type CheckoutParams struct {
	AmountMinor    int64
	ProductName    string
	ClientRef      string
	Metadata       map[string]string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession opens a one-line-item payment checkout. Metadata is
// attached to the session and to the payment intent it creates, so both
// completion events carry it.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", c.successURL)
	form.Set("cancel_url", c.cancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", c.currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.ProductName)

	if p.ClientRef != "" {
		form.Set("client_reference_id", p.ClientRef)
	}

	setMetadata(form, "metadata", p.Metadata)
	setMetadata(form, "payment_intent_data[metadata]", p.Metadata)

	var s CheckoutSession

	err := c.post(ctx, "create_checkout_session", "/v1/checkout/sessions", form, p.IdempotencyKey, &s)
	if err != nil {
		return CheckoutSession{}, err
	}

	return s, nil
}
