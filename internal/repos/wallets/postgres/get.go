package wallets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/caseledger/internal/ledger"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
	"github.com/google/uuid"
)

func (r *walletsRepo) Get(ctx context.Context, userID uuid.UUID) (ledger.Wallet, error) {
	w, err := scanWallet(r.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
	`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Wallet{}, wallets.ErrWalletNotFound
		}

		return ledger.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}

	return w, nil
}

func scanWallet(row rowScanner) (ledger.Wallet, error) {
	var w ledger.Wallet

	err := row.Scan(&w.UserID, &w.BalanceMinor, &w.ReservedMinor, &w.UpdatedAt)
	if err != nil {
		return ledger.Wallet{}, err
	}

	return w, nil
}
