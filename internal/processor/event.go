package processor

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentSucceeded  = "payment_intent.succeeded"
)

var ErrMalformedEvent = errors.New("malformed webhook event")

type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type CheckoutSessionObject struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent ExpandableRef     `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}

type PaymentIntentObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// ExpandableRef decodes either a bare object id or an expanded object with an
// "id" and, for payment intents, its metadata.
type ExpandableRef struct {
	ID       string
	Metadata map[string]string
}

func (e *ExpandableRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}

	var obj struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}

	err := json.Unmarshal(b, &obj)
	if err != nil {
		return err
	}

	e.ID, e.Metadata = obj.ID, obj.Metadata

	return nil
}

func ParseEvent(payload []byte) (Event, error) {
	var ev Event

	err := json.Unmarshal(payload, &ev)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if ev.ID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	return ev, nil
}

func (e Event) CheckoutSession() (CheckoutSessionObject, error) {
	var s CheckoutSessionObject

	err := json.Unmarshal(e.Data.Object, &s)
	if err != nil {
		return CheckoutSessionObject{}, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
	}

	return s, nil
}

func (e Event) PaymentIntent() (PaymentIntentObject, error) {
	var pi PaymentIntentObject

	err := json.Unmarshal(e.Data.Object, &pi)
	if err != nil {
		return PaymentIntentObject{}, fmt.Errorf("%w: payment intent: %v", ErrMalformedEvent, err)
	}

	return pi, nil
}
