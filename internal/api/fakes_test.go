package api

import (
	"context"
	"sync"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/withdrawals"
	"github.com/fastprodman/caseledger/internal/services/checkout"
	"github.com/fastprodman/caseledger/internal/services/webhook"
	"github.com/google/uuid"
)

type fakeCheckout struct {
	mu   sync.Mutex
	last checkout.Request
	sess checkout.Session
	err  error
}

func (f *fakeCheckout) Create(_ context.Context, req checkout.Request) (checkout.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last = req

	return f.sess, f.err
}

type fakeWebhooks struct {
	mu        sync.Mutex
	payload   []byte
	signature string
	outcome   webhook.Outcome
	err       error
	retry     webhook.RetryResult
	retryErr  error
	open      []ledger.WebhookFailure
}

func (f *fakeWebhooks) Handle(_ context.Context, payload []byte, sig string) (webhook.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.payload = payload
	f.signature = sig

	return f.outcome, f.err
}

func (f *fakeWebhooks) Retry(context.Context, int64) (webhook.RetryResult, error) {
	return f.retry, f.retryErr
}

func (f *fakeWebhooks) ListOpen(context.Context, int) ([]ledger.WebhookFailure, error) {
	return f.open, nil
}

type fakeWithdrawals struct {
	mu      sync.Mutex
	created ledger.Withdrawal
	err     error
	byID    map[int64]ledger.Withdrawal
	bank    ledger.BankDetails
	amount  int64
}

func (f *fakeWithdrawals) Create(_ context.Context, userID uuid.UUID, amount int64, bank ledger.BankDetails) (ledger.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.amount = amount
	f.bank = bank

	if f.err != nil {
		return ledger.Withdrawal{}, f.err
	}

	w := f.created
	w.UserID = userID

	return w, nil
}

func (f *fakeWithdrawals) Get(_ context.Context, id int64) (ledger.Withdrawal, error) {
	w, ok := f.byID[id]
	if !ok {
		return ledger.Withdrawal{}, withdrawals.ErrWithdrawalNotFound
	}

	return w, nil
}

func (f *fakeWithdrawals) ListForUser(_ context.Context, userID uuid.UUID, _ int) ([]ledger.Withdrawal, error) {
	var out []ledger.Withdrawal

	for _, w := range f.byID {
		if w.UserID == userID {
			out = append(out, w)
		}
	}

	return out, nil
}

func (f *fakeWithdrawals) Retry(_ context.Context, id int64) (ledger.Withdrawal, error) {
	if f.err != nil {
		return ledger.Withdrawal{}, f.err
	}

	return f.Get(context.Background(), id)
}

type fakeBalances struct {
	wallet ledger.Wallet
	escrow int64
	err    error
}

func (f *fakeBalances) GetWallet(_ context.Context, userID uuid.UUID) (ledger.Wallet, error) {
	w := f.wallet
	w.UserID = userID

	return w, f.err
}

func (f *fakeBalances) ListTransactions(context.Context, uuid.UUID, int) ([]ledger.Transaction, error) {
	return nil, f.err
}

func (f *fakeBalances) CaseEscrow(context.Context, uuid.UUID) (int64, error) {
	return f.escrow, f.err
}

type fakeSettlements struct {
	run ledger.InternalTransfer
	err error
}

func (f *fakeSettlements) Run(context.Context) (ledger.InternalTransfer, error) {
	return f.run, f.err
}

func (f *fakeSettlements) History(context.Context, int) ([]ledger.InternalTransfer, error) {
	return []ledger.InternalTransfer{f.run}, nil
}
