package balance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/cases"
	pgcases "github.com/fastprodman/caseledger/internal/repos/cases/postgres"
	"github.com/fastprodman/caseledger/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/caseledger/internal/repos/transactions/postgres"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
	pgwallets "github.com/fastprodman/caseledger/internal/repos/wallets/postgres"
	"github.com/google/uuid"
)

// BalanceService serves read-only views of wallets and escrow. Nothing here
// takes row locks.
type BalanceService struct {
	wallets wallets.Wallets
	txns    transactions.Transactions
	cases   cases.Cases
}

func New(dbx *sql.DB) *BalanceService {
	return &BalanceService{
		wallets: pgwallets.New(dbx),
		txns:    pgtransactions.New(dbx),
		cases:   pgcases.New(dbx),
	}
}

// GetWallet returns the user's wallet. Users who never received money get
// an empty wallet rather than an error.
func (s *BalanceService) GetWallet(ctx context.Context, userID uuid.UUID) (ledger.Wallet, error) {
	w, err := s.wallets.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, wallets.ErrWalletNotFound) {
			return ledger.Wallet{UserID: userID}, nil
		}

		return ledger.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}

	return w, nil
}

func (s *BalanceService) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Transaction, error) {
	list, err := s.txns.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return list, nil
}

func (s *BalanceService) CaseEscrow(ctx context.Context, caseID uuid.UUID) (int64, error) {
	escrow, err := s.cases.Escrow(ctx, caseID)
	if err != nil {
		return 0, fmt.Errorf("get case escrow: %w", err)
	}

	return escrow, nil
}
