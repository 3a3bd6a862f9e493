package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/processor"
	"github.com/fastprodman/caseledger/internal/repos/cases"
	"github.com/fastprodman/caseledger/internal/services/fees"
	"github.com/google/uuid"
)

type Sessions interface {
	CreateCheckoutSession(ctx context.Context, p processor.CheckoutParams) (processor.CheckoutSession, error)
}

type CaseStatuses interface {
	Status(ctx context.Context, caseID uuid.UUID) (cases.Status, error)
}

type Request struct {
	Intent      string
	UserID      uuid.UUID
	AmountMinor int64
	CaseID      uuid.NullUUID
}

type Session struct {
	SessionID   string
	CheckoutURL string
	CheckoutRef string
	Fee         fees.Breakdown
}

type Options struct {
	MinAmountMinor int64
	Timeout        time.Duration
	Attempts       int
	BaseBackoff    time.Duration
}

type Initiator struct {
	sessions Sessions
	cases    CaseStatuses
	policy   fees.Policy
	opts     Options
}

func New(sessions Sessions, caseStatuses CaseStatuses, policy fees.Policy, opts Options) *Initiator {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}

	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 200 * time.Millisecond
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &Initiator{sessions: sessions, cases: caseStatuses, policy: policy, opts: opts}
}

// Create validates the request, prices it and opens a processor checkout
// session. Nothing is written to the ledger until the payment webhook arrives.
func (s *Initiator) Create(ctx context.Context, req Request) (Session, error) {
	intent, breakdown, err := s.buildIntent(ctx, req)
	if err != nil {
		return Session{}, err
	}

	checkoutRef := uuid.NewString()

	md := intent.Metadata()
	md[ledger.MetaCheckoutRef] = checkoutRef

	params := processor.CheckoutParams{
		AmountMinor:    breakdown.Gross,
		ProductName:    productName(intent),
		ClientRef:      req.UserID.String(),
		Metadata:       md,
		IdempotencyKey: "checkout-" + checkoutRef,
	}

	sess, err := s.createWithRetry(ctx, params)
	if err != nil {
		return Session{}, fmt.Errorf("create checkout session: %w", err)
	}

	slog.Info("checkout session created",
		"session_id", sess.ID,
		"checkout_ref", checkoutRef,
		"intent", md[ledger.MetaIntent],
		"user_id", req.UserID,
		"amount_minor", breakdown.Gross,
	)

	return Session{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
		CheckoutRef: checkoutRef,
		Fee:         breakdown,
	}, nil
}

func (s *Initiator) buildIntent(ctx context.Context, req Request) (ledger.Intent, fees.Breakdown, error) {
	if req.UserID == uuid.Nil {
		return nil, fees.Breakdown{}, ledger.Invalid("userId", "required")
	}

	if req.AmountMinor < s.opts.MinAmountMinor {
		return nil, fees.Breakdown{}, ledger.Invalid("amount", "must be at least "+ledger.FormatAmount(s.opts.MinAmountMinor))
	}

	switch req.Intent {
	case ledger.IntentWalletDeposit:
		if req.CaseID.Valid {
			return nil, fees.Breakdown{}, ledger.Invalid("caseId", "not allowed for wallet deposits")
		}

		b, err := s.policy.Fee(req.AmountMinor, fees.KindDeposit)
		if err != nil {
			return nil, fees.Breakdown{}, ledger.Invalid("amount", err.Error())
		}

		return ledger.DepositIntent{UserID: req.UserID, AmountMinor: b.Gross}, b, nil

	case ledger.IntentDonation:
		if !req.CaseID.Valid {
			b, err := s.policy.Fee(req.AmountMinor, fees.KindPlatformDonation)
			if err != nil {
				return nil, fees.Breakdown{}, ledger.Invalid("amount", err.Error())
			}

			return ledger.PlatformDonationIntent{UserID: req.UserID, AmountMinor: b.Gross}, b, nil
		}

		status, err := s.cases.Status(ctx, req.CaseID.UUID)
		if err != nil {
			return nil, fees.Breakdown{}, fmt.Errorf("check case: %w", err)
		}

		if !status.Donatable() {
			return nil, fees.Breakdown{}, ledger.Invalid("caseId", "case is "+string(status)+" and does not accept donations")
		}

		b, err := s.policy.Fee(req.AmountMinor, fees.KindCaseDonation)
		if err != nil {
			return nil, fees.Breakdown{}, ledger.Invalid("amount", err.Error())
		}

		return ledger.CaseDonationIntent{
			UserID:     req.UserID,
			CaseID:     req.CaseID.UUID,
			GrossMinor: b.Gross,
			FeeMinor:   b.Fee,
			NetMinor:   b.Net,
			FeeRate:    s.policy.PlatformRate.String(),
		}, b, nil

	default:
		return nil, fees.Breakdown{}, ledger.Invalid("intent", "must be wallet_deposit or donation")
	}
}

// createWithRetry repeats temporary processor failures with exponential
// backoff. The idempotency key stays the same across attempts.
func (s *Initiator) createWithRetry(ctx context.Context, p processor.CheckoutParams) (processor.CheckoutSession, error) {
	var lastErr error

	for attempt := 0; attempt < s.opts.Attempts; attempt++ {
		if attempt > 0 {
			wait := s.opts.BaseBackoff << (attempt - 1)

			select {
			case <-ctx.Done():
				return processor.CheckoutSession{}, errors.Join(lastErr, ctx.Err())
			case <-time.After(wait):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		sess, err := s.sessions.CreateCheckoutSession(callCtx, p)
		cancel()

		if err == nil {
			return sess, nil
		}

		lastErr = err

		var pe *ledger.ProcessorError
		if !errors.As(err, &pe) || !pe.Temporary() {
			return processor.CheckoutSession{}, err
		}

		slog.Warn("checkout session attempt failed", "attempt", attempt+1, "idempotency_key", p.IdempotencyKey, "error", err)
	}

	return processor.CheckoutSession{}, lastErr
}

func productName(intent ledger.Intent) string {
	switch intent.(type) {
	case ledger.DepositIntent:
		return "Wallet deposit"
	case ledger.CaseDonationIntent:
		return "Case donation"
	default:
		return "Platform donation"
	}
}
