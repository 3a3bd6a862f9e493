package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metadata keys attached to checkout sessions and their payment intents.
const (
	MetaIntent      = "intent"
	MetaCheckoutRef = "checkout_ref"
	MetaUserID      = "user_id"
	MetaCaseID      = "case_id"
	MetaGross       = "gross_amount"
	MetaFee         = "platform_fee"
	MetaNet         = "net_amount"
	MetaFeeRate     = "fee_rate"
)

const (
	IntentWalletDeposit = "wallet_deposit"
	IntentDonation      = "donation"
)

// Intent is the ledger effect a checkout was created for. The concrete
// types are DepositIntent, CaseDonationIntent and PlatformDonationIntent.
type Intent interface {
	Owner() uuid.UUID
	Gross() int64
	Metadata() map[string]string
	intent()
}

type DepositIntent struct {
	UserID      uuid.UUID
	AmountMinor int64
}

type CaseDonationIntent struct {
	UserID     uuid.UUID
	CaseID     uuid.UUID
	GrossMinor int64
	FeeMinor   int64
	NetMinor   int64
	// FeeRate is the platform rate the donation was priced at, as a decimal
	// string. Empty when the checkout did not record one.
	FeeRate string
}

// PlatformDonationIntent is a donation with no designated case. It carries no fee.
type PlatformDonationIntent struct {
	UserID      uuid.UUID
	AmountMinor int64
}

func (i DepositIntent) Owner() uuid.UUID { return i.UserID }
func (i DepositIntent) Gross() int64     { return i.AmountMinor }
func (DepositIntent) intent()            {}

func (i DepositIntent) Metadata() map[string]string {
	return map[string]string{
		MetaIntent: IntentWalletDeposit,
		MetaUserID: i.UserID.String(),
		MetaGross:  strconv.FormatInt(i.AmountMinor, 10),
		MetaFee:    "0",
		MetaNet:    strconv.FormatInt(i.AmountMinor, 10),
	}
}

func (i CaseDonationIntent) Owner() uuid.UUID { return i.UserID }
func (i CaseDonationIntent) Gross() int64     { return i.GrossMinor }
func (CaseDonationIntent) intent()            {}

func (i CaseDonationIntent) Metadata() map[string]string {
	md := map[string]string{
		MetaIntent: IntentDonation,
		MetaUserID: i.UserID.String(),
		MetaCaseID: i.CaseID.String(),
		MetaGross:  strconv.FormatInt(i.GrossMinor, 10),
		MetaFee:    strconv.FormatInt(i.FeeMinor, 10),
		MetaNet:    strconv.FormatInt(i.NetMinor, 10),
	}

	if i.FeeRate != "" {
		md[MetaFeeRate] = i.FeeRate
	}

	return md
}

func (i PlatformDonationIntent) Owner() uuid.UUID { return i.UserID }
func (i PlatformDonationIntent) Gross() int64     { return i.AmountMinor }
func (PlatformDonationIntent) intent()            {}

func (i PlatformDonationIntent) Metadata() map[string]string {
	return map[string]string{
		MetaIntent: IntentDonation,
		MetaUserID: i.UserID.String(),
		MetaGross:  strconv.FormatInt(i.AmountMinor, 10),
		MetaFee:    "0",
		MetaNet:    strconv.FormatInt(i.AmountMinor, 10),
	}
}

// DecodeIntent rebuilds an Intent from checkout metadata. Every field the
// variant needs must be present; a missing field is an error, never a zero.
func DecodeIntent(md map[string]string) (Intent, error) {
	userID, err := metaUUID(md, MetaUserID)
	if err != nil {
		return nil, err
	}

	gross, err := metaAmount(md, MetaGross)
	if err != nil {
		return nil, err
	}

	fee, err := metaAmount(md, MetaFee)
	if err != nil {
		return nil, err
	}

	net, err := metaAmount(md, MetaNet)
	if err != nil {
		return nil, err
	}

	if gross <= 0 || fee < 0 || fee+net != gross {
		return nil, fmt.Errorf("%w: amounts gross=%d fee=%d net=%d", ErrInvalidMetadata, gross, fee, net)
	}

	switch md[MetaIntent] {
	case IntentWalletDeposit:
		if fee != 0 {
			return nil, fmt.Errorf("%w: deposit with fee %d", ErrInvalidMetadata, fee)
		}

		return DepositIntent{UserID: userID, AmountMinor: gross}, nil
	case IntentDonation:
		if md[MetaCaseID] == "" {
			if fee != 0 {
				return nil, fmt.Errorf("%w: platform donation with fee %d", ErrInvalidMetadata, fee)
			}

			return PlatformDonationIntent{UserID: userID, AmountMinor: gross}, nil
		}

		caseID, err := metaUUID(md, MetaCaseID)
		if err != nil {
			return nil, err
		}

		rate := md[MetaFeeRate]
		if rate != "" {
			_, err = decimal.NewFromString(rate)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, MetaFeeRate, err)
			}
		}

		return CaseDonationIntent{
			UserID:     userID,
			CaseID:     caseID,
			GrossMinor: gross,
			FeeMinor:   fee,
			NetMinor:   net,
			FeeRate:    rate,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown intent %q", ErrInvalidMetadata, md[MetaIntent])
	}
}

func metaUUID(md map[string]string, key string) (uuid.UUID, error) {
	raw, ok := md[key]
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("%w: missing %s", ErrInvalidMetadata, key)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, key, err)
	}

	return id, nil
}

func metaAmount(md map[string]string, key string) (int64, error) {
	raw, ok := md[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidMetadata, key)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, key, err)
	}

	return v, nil
}
