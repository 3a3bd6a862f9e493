package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TxType string

const (
	TxDeposit          TxType = "deposit"
	TxDonation         TxType = "donation"
	TxPlatformDonation TxType = "platform_donation"
	TxWithdrawal       TxType = "withdrawal"
	TxPlatformFee      TxType = "platform_fee"
	TxWithdrawalFee    TxType = "withdrawal_fee"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

type TransferStatus string

const (
	// TransferPending: fees are claimed and the processor transfer is not confirmed yet.
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferNoop      TransferStatus = "noop"
	TransferFailed    TransferStatus = "failed"
)

// Wallet is a user's spendable funds. Reserved is money committed to
// withdrawals that are pending or processing.
type Wallet struct {
	UserID        uuid.UUID
	BalanceMinor  int64 // cents
	ReservedMinor int64 // cents
	UpdatedAt     time.Time
}

// Transaction is an append-only ledger entry. Only Status changes after insert.
type Transaction struct {
	ID          int64
	UserID      uuid.UUID
	Type        TxType
	AmountMinor int64
	Status      TxStatus
	ExternalRef string
	CaseID      uuid.NullUUID
	Metadata    map[string]string
	CreatedAt   time.Time
}

type BankDetails struct {
	AccountHolder string `json:"account_holder"`
	IBAN          string `json:"iban"`
	BIC           string `json:"bic,omitempty"`
}

type Withdrawal struct {
	ID            int64
	UserID        uuid.UUID
	AmountMinor   int64
	FeeMinor      int64
	NetMinor      int64
	Status        WithdrawalStatus
	BankDetails   BankDetails
	RetryCount    int
	FailureReason string
	PayoutRef     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time
}

// Open reports whether the withdrawal still holds a wallet reservation.
func (w Withdrawal) Open() bool {
	return w.Status == WithdrawalPending || w.Status == WithdrawalProcessing
}

type RevenueEntry struct {
	AmountMinor     int64
	TransactionType TxType
	ReferenceID     string
}

// WebhookFailure is a verified payment event whose ledger effect has not been applied.
type WebhookFailure struct {
	ID          int64
	EventID     string
	EventType   string
	Payload     json.RawMessage
	Error       string
	RetryCount  int
	LastRetryAt *time.Time
	ResolvedAt  *time.Time
	CreatedAt   time.Time
}

func (f WebhookFailure) Resolved() bool {
	return f.ResolvedAt != nil
}

// InternalTransfer audits one settlement run.
type InternalTransfer struct {
	ID                 int64
	RunRef             string
	AmountMinor        int64
	Status             TransferStatus
	ExternalTransferID string
	Error              string
	CreatedAt          time.Time
}
