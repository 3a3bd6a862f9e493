// Package fees computes the platform's cut of money moving through the ledger.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidRate   = errors.New("fee rate must be in [0, 1)")
)

type Kind int

const (
	KindDeposit Kind = iota
	KindCaseDonation
	KindPlatformDonation
	KindWithdrawal
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindCaseDonation:
		return "case_donation"
	case KindPlatformDonation:
		return "platform_donation"
	case KindWithdrawal:
		return "withdrawal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Breakdown always satisfies Fee + Net == Gross.
type Breakdown struct {
	Gross int64
	Fee   int64
	Net   int64
}

type Policy struct {
	PlatformRate   decimal.Decimal
	WithdrawalRate decimal.Decimal
}

func NewPolicy(platformRate, withdrawalRate decimal.Decimal) (Policy, error) {
	for name, rate := range map[string]decimal.Decimal{"platform": platformRate, "withdrawal": withdrawalRate} {
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return Policy{}, fmt.Errorf("%s rate %s: %w", name, rate, ErrInvalidRate)
		}
	}

	return Policy{PlatformRate: platformRate, WithdrawalRate: withdrawalRate}, nil
}

// Fee splits amount (minor units) into fee and net. Fees are rounded half up
// to the minor unit.
func (p Policy) Fee(amount int64, kind Kind) (Breakdown, error) {
	if amount <= 0 {
		return Breakdown{}, ErrInvalidAmount
	}

	switch kind {
	case KindCaseDonation:
		return split(amount, p.PlatformRate), nil
	case KindWithdrawal:
		return split(amount, p.WithdrawalRate), nil
	case KindDeposit, KindPlatformDonation:
		return Breakdown{Gross: amount, Net: amount}, nil
	default:
		return Breakdown{}, fmt.Errorf("unknown fee kind %s", kind)
	}
}

// FeeAt splits amount at an explicit rate, such as the one recorded when a
// checkout was priced.
func FeeAt(amount int64, rate decimal.Decimal) (Breakdown, error) {
	if amount <= 0 {
		return Breakdown{}, ErrInvalidAmount
	}

	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Breakdown{}, fmt.Errorf("rate %s: %w", rate, ErrInvalidRate)
	}

	return split(amount, rate), nil
}

func split(amount int64, rate decimal.Decimal) Breakdown {
	fee := decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
	if fee > amount {
		fee = amount
	}

	return Breakdown{Gross: amount, Fee: fee, Net: amount - fee}
}
