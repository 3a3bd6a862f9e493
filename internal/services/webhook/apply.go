package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/fastprodman/caseledger/internal/infra/events"
	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/processor"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
	"github.com/fastprodman/caseledger/internal/services/fees"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// payment is the part of a completion event the ledger cares about.
type payment struct {
	eventID  string
	key      string
	paid     int64
	metadata map[string]string
}

// process maps an event to a ledger effect and applies it.
func (p *Processor) process(ctx context.Context, ev processor.Event) (Outcome, error) {
	pay, ok, err := extractPayment(ev)
	if err != nil {
		return "", err
	}

	if !ok {
		slog.Debug("webhook event ignored", "event_id", ev.ID, "event_type", ev.Type)
		return OutcomeIgnored, nil
	}

	intent, err := ledger.DecodeIntent(pay.metadata)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	err = p.verify(intent, pay)
	if err != nil {
		return "", err
	}

	return p.apply(ctx, pay, intent)
}

func extractPayment(ev processor.Event) (payment, bool, error) {
	switch ev.Type {
	case processor.EventCheckoutCompleted:
		s, err := ev.CheckoutSession()
		if err != nil {
			return payment{}, false, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}

		// Delayed payment methods complete the session before funds arrive;
		// the later payment_intent.succeeded carries the same key.
		if s.PaymentStatus != "paid" {
			return payment{}, false, nil
		}

		md := s.Metadata
		if len(md) == 0 {
			md = s.PaymentIntent.Metadata
		}

		return payment{eventID: ev.ID, key: idempotencyKey(md, s.ID), paid: s.AmountTotal, metadata: md}, true, nil

	case processor.EventPaymentSucceeded:
		pi, err := ev.PaymentIntent()
		if err != nil {
			return payment{}, false, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}

		return payment{eventID: ev.ID, key: idempotencyKey(pi.Metadata, pi.ID), paid: pi.Amount, metadata: pi.Metadata}, true, nil

	default:
		return payment{}, false, nil
	}
}

// idempotencyKey prefers the checkout reference minted at session creation,
// which both completion events for one payment carry.
func idempotencyKey(md map[string]string, objectID string) string {
	if ref := md[ledger.MetaCheckoutRef]; ref != "" {
		return ref
	}

	return objectID
}

func (p *Processor) verify(intent ledger.Intent, pay payment) error {
	if pay.key == "" {
		return fmt.Errorf("%w: no idempotency key", ErrInvalidEvent)
	}

	if pay.paid > 0 && pay.paid != intent.Gross() {
		return fmt.Errorf("%w: paid %d but intent gross is %d", ErrInvalidEvent, pay.paid, intent.Gross())
	}

	donation, ok := intent.(ledger.CaseDonationIntent)
	if !ok {
		return nil
	}

	want, err := p.donationFee(donation)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if want.Fee != donation.FeeMinor || want.Net != donation.NetMinor {
		return fmt.Errorf("%w: fee %d/net %d does not match policy %d/%d",
			ErrInvalidEvent, donation.FeeMinor, donation.NetMinor, want.Fee, want.Net)
	}

	return nil
}

// donationFee prices a donation at the rate recorded at checkout, or at the
// current policy when the metadata carries no rate.
func (p *Processor) donationFee(d ledger.CaseDonationIntent) (fees.Breakdown, error) {
	if d.FeeRate == "" {
		return p.policy.Fee(d.GrossMinor, fees.KindCaseDonation)
	}

	rate, err := decimal.NewFromString(d.FeeRate)
	if err != nil {
		return fees.Breakdown{}, fmt.Errorf("fee rate %q: %w", d.FeeRate, err)
	}

	return fees.FeeAt(d.GrossMinor, rate)
}

func (p *Processor) apply(ctx context.Context, pay payment, intent ledger.Intent) (Outcome, error) {
	outcome := OutcomeApplied

	err := pgutils.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		inserted, err := p.insertPrimary(ctx, tx, pay, intent)
		if err != nil {
			return err
		}

		if !inserted {
			outcome = OutcomeDuplicate
		} else {
			err = p.applyEffect(ctx, tx, pay, intent)
			if err != nil {
				return err
			}
		}

		resolved, err := p.failures.ResolveByEvent(ctx, tx, pay.eventID)
		if err != nil {
			return fmt.Errorf("resolve open failure: %w", err)
		}

		if resolved {
			slog.Info("open webhook failure resolved by delivery", "event_id", pay.eventID)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("apply payment %s: %w", pay.key, err)
	}

	if outcome == OutcomeApplied {
		slog.Info("payment applied", "event_id", pay.eventID, "reference", pay.key,
			"user_id", intent.Owner(), "amount_minor", intent.Gross())
		events.Emit(ctx, p.events, eventFor(pay, intent))
	} else {
		slog.Info("duplicate payment delivery", "event_id", pay.eventID, "reference", pay.key)
	}

	return outcome, nil
}

func (p *Processor) insertPrimary(ctx context.Context, tx *sql.Tx, pay payment, intent ledger.Intent) (bool, error) {
	md := maps.Clone(pay.metadata)
	md["event_id"] = pay.eventID

	in := transactions.NewTransaction{
		UserID:      intent.Owner(),
		AmountMinor: intent.Gross(),
		Status:      ledger.TxCompleted,
		ExternalRef: pay.key,
		Metadata:    md,
	}

	switch it := intent.(type) {
	case ledger.DepositIntent:
		in.Type = ledger.TxDeposit
	case ledger.CaseDonationIntent:
		in.Type = ledger.TxDonation
		in.CaseID = uuid.NullUUID{UUID: it.CaseID, Valid: true}
	case ledger.PlatformDonationIntent:
		in.Type = ledger.TxPlatformDonation
	default:
		return false, fmt.Errorf("unsupported intent %T", intent)
	}

	_, inserted, err := p.txns.InsertIdempotent(ctx, tx, in)
	if err != nil {
		return false, fmt.Errorf("insert %s transaction: %w", in.Type, err)
	}

	return inserted, nil
}

func (p *Processor) applyEffect(ctx context.Context, tx *sql.Tx, pay payment, intent ledger.Intent) error {
	switch it := intent.(type) {
	case ledger.DepositIntent:
		err := p.wallets.Ensure(ctx, tx, it.UserID)
		if err != nil {
			return err
		}

		_, err = p.wallets.LockForUpdate(ctx, tx, it.UserID)
		if err != nil {
			return err
		}

		return p.wallets.Credit(ctx, tx, it.UserID, it.AmountMinor)

	case ledger.CaseDonationIntent:
		err := p.cases.CreditEscrow(ctx, tx, it.CaseID, it.NetMinor)
		if err != nil {
			return err
		}

		if it.FeeMinor == 0 {
			return nil
		}

		_, err = p.txns.Insert(ctx, tx, transactions.NewTransaction{
			UserID:      it.UserID,
			Type:        ledger.TxPlatformFee,
			AmountMinor: it.FeeMinor,
			Status:      ledger.TxCompleted,
			ExternalRef: pay.key,
			CaseID:      uuid.NullUUID{UUID: it.CaseID, Valid: true},
			Metadata:    map[string]string{"event_id": pay.eventID},
		})
		if err != nil {
			return fmt.Errorf("insert platform fee: %w", err)
		}

		return nil

	case ledger.PlatformDonationIntent:
		return p.revenue.Insert(ctx, tx, ledger.RevenueEntry{
			AmountMinor:     it.AmountMinor,
			TransactionType: ledger.TxPlatformDonation,
			ReferenceID:     pay.key,
		})

	default:
		return errors.New("unsupported intent")
	}
}

func eventFor(pay payment, intent ledger.Intent) events.Event {
	ev := events.Event{
		UserID:      intent.Owner().String(),
		AmountMinor: intent.Gross(),
		Reference:   pay.key,
		Attributes:  map[string]string{"event_id": pay.eventID},
	}

	switch it := intent.(type) {
	case ledger.DepositIntent:
		ev.Type = events.WalletCredited
	case ledger.CaseDonationIntent:
		ev.Type = events.CaseDonated
		ev.CaseID = it.CaseID.String()
		ev.Attributes["net_minor"] = fmt.Sprint(it.NetMinor)
		ev.Attributes["fee_minor"] = fmt.Sprint(it.FeeMinor)
	case ledger.PlatformDonationIntent:
		ev.Type = events.PlatformDonated
	}

	return ev
}
