package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fastprodman/caseledger/internal/infra/events"
	"github.com/fastprodman/caseledger/internal/infra/metrics"
	"github.com/fastprodman/caseledger/internal/infra/pgutils"
	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/processor"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/caseledger/internal/repos/transactions/postgres"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
	pgwallets "github.com/fastprodman/caseledger/internal/repos/wallets/postgres"
	"github.com/fastprodman/caseledger/internal/repos/withdrawals"
	pgwithdrawals "github.com/fastprodman/caseledger/internal/repos/withdrawals/postgres"
	"github.com/fastprodman/caseledger/internal/services/fees"
	"github.com/google/uuid"
)

var (
	ErrNotRetryable      = errors.New("only failed withdrawals can be retried")
	ErrRetryLimitReached = errors.New("withdrawal retry limit reached")
)

const rateWindow = 24 * time.Hour

type Payouts interface {
	CreatePayout(ctx context.Context, p processor.PayoutParams) (processor.Payout, error)
}

type Options struct {
	MinAmountMinor int64
	MaxPerDay      int
	MaxRetries     int
	BatchSize      int
	StaleAfter     time.Duration
	PayoutTimeout  time.Duration
	Now            func() time.Time
}

type Engine struct {
	db          *sql.DB
	wallets     wallets.Wallets
	txns        transactions.Transactions
	withdrawals withdrawals.Withdrawals
	payouts     Payouts
	policy      fees.Policy
	events      events.Publisher
	opts        Options
}

func New(db *sql.DB, payouts Payouts, policy fees.Policy, pub events.Publisher, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}

	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}

	if opts.PayoutTimeout <= 0 {
		opts.PayoutTimeout = 30 * time.Second
	}

	if pub == nil {
		pub = events.Nop{}
	}

	return &Engine{
		db:          db,
		wallets:     pgwallets.New(db),
		txns:        pgtransactions.New(db),
		withdrawals: pgwithdrawals.New(db),
		payouts:     payouts,
		policy:      policy,
		events:      pub,
		opts:        opts,
	}
}

// Create reserves amount from the user's wallet and queues a payout.
//
// Inside one transaction it:
//
// 1) Locks the wallet row (FOR UPDATE).
// 2) Enforces the rolling 24h request limit.
// 3) Moves amount from balance to reserved.
// 4) Inserts the request and its pending withdrawal transaction.
func (e *Engine) Create(ctx context.Context, userID uuid.UUID, amount int64, bank ledger.BankDetails) (ledger.Withdrawal, error) {
	err := e.validate(userID, amount, bank)
	if err != nil {
		return ledger.Withdrawal{}, err
	}

	b, err := e.policy.Fee(amount, fees.KindWithdrawal)
	if err != nil {
		return ledger.Withdrawal{}, ledger.Invalid("amount", err.Error())
	}

	if b.Net <= 0 {
		return ledger.Withdrawal{}, ledger.Invalid("amount", "nothing left after fees")
	}

	var w ledger.Withdrawal

	err = pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		wallet, err := e.wallets.LockForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, wallets.ErrWalletNotFound) {
				return wallets.ErrInsufficientBalance
			}

			return err
		}

		now := e.opts.Now()

		count, oldest, err := e.withdrawals.CountSince(ctx, tx, userID, now.Add(-rateWindow))
		if err != nil {
			return err
		}

		if e.opts.MaxPerDay > 0 && count >= e.opts.MaxPerDay {
			return &ledger.RateLimitError{Limit: e.opts.MaxPerDay, ResetAt: oldest.Add(rateWindow)}
		}

		if wallet.BalanceMinor < amount {
			return wallets.ErrInsufficientBalance
		}

		err = e.wallets.Reserve(ctx, tx, userID, amount)
		if err != nil {
			return err
		}

		w, err = e.withdrawals.Insert(ctx, tx, withdrawals.NewWithdrawal{
			UserID:      userID,
			AmountMinor: b.Gross,
			FeeMinor:    b.Fee,
			NetMinor:    b.Net,
			BankDetails: bank,
		})
		if err != nil {
			return err
		}

		return e.insertAttempt(ctx, tx, w)
	})
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("create withdrawal: %w", err)
	}

	metrics.Withdrawals.WithLabelValues("requested").Inc()
	slog.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", userID, "amount_minor", amount, "fee_minor", b.Fee)
	events.Emit(ctx, e.events, withdrawalEvent(events.WithdrawalRequested, w))

	return w, nil
}

func (e *Engine) validate(userID uuid.UUID, amount int64, bank ledger.BankDetails) error {
	if userID == uuid.Nil {
		return ledger.Invalid("userId", "required")
	}

	if amount < e.opts.MinAmountMinor {
		return ledger.Invalid("amount", "must be at least "+ledger.FormatAmount(e.opts.MinAmountMinor))
	}

	if strings.TrimSpace(bank.AccountHolder) == "" {
		return ledger.Invalid("bankDetails.accountHolder", "required")
	}

	if strings.TrimSpace(bank.IBAN) == "" {
		return ledger.Invalid("bankDetails.iban", "required")
	}

	return nil
}

// insertAttempt appends the pending withdrawal transaction for the request's
// current attempt.
func (e *Engine) insertAttempt(ctx context.Context, tx *sql.Tx, w ledger.Withdrawal) error {
	_, err := e.txns.Insert(ctx, tx, transactions.NewTransaction{
		UserID:      w.UserID,
		Type:        ledger.TxWithdrawal,
		AmountMinor: w.AmountMinor,
		Status:      ledger.TxPending,
		ExternalRef: attemptRef(w),
		Metadata: map[string]string{
			"withdrawal_id": strconv.FormatInt(w.ID, 10),
			"fee_minor":     strconv.FormatInt(w.FeeMinor, 10),
			"net_minor":     strconv.FormatInt(w.NetMinor, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("insert withdrawal transaction: %w", err)
	}

	return nil
}

func baseRef(id int64) string {
	return "withdrawal:" + strconv.FormatInt(id, 10)
}

func attemptRef(w ledger.Withdrawal) string {
	if w.RetryCount == 0 {
		return baseRef(w.ID)
	}

	return baseRef(w.ID) + ":retry:" + strconv.Itoa(w.RetryCount)
}

func payoutKey(w ledger.Withdrawal) string {
	return fmt.Sprintf("withdrawal-%d-%d", w.ID, w.RetryCount)
}

func (e *Engine) Get(ctx context.Context, id int64) (ledger.Withdrawal, error) {
	w, err := e.withdrawals.Get(ctx, id)
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("get withdrawal: %w", err)
	}

	return w, nil
}

func (e *Engine) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Withdrawal, error) {
	list, err := e.withdrawals.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}

	return list, nil
}

func withdrawalEvent(typ events.Type, w ledger.Withdrawal) events.Event {
	return events.Event{
		Type:        typ,
		UserID:      w.UserID.String(),
		AmountMinor: w.AmountMinor,
		Reference:   baseRef(w.ID),
		Attributes: map[string]string{
			"status":      string(w.Status),
			"retry_count": strconv.Itoa(w.RetryCount),
		},
	}
}
