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

// LockForUpdate takes the row lock that serializes every mutation of one wallet.
func (r *walletsRepo) LockForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (ledger.Wallet, error) {
	w, err := scanWallet(tx.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Wallet{}, wallets.ErrWalletNotFound
		}

		return ledger.Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}

	return w, nil
}
