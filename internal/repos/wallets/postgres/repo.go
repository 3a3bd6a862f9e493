package wallets

import (
	"database/sql"

	"github.com/fastprodman/caseledger/internal/repos/wallets"
)

var _ wallets.Wallets = (*walletsRepo)(nil)

type walletsRepo struct{ db *sql.DB }

func New(db *sql.DB) *walletsRepo {
	return &walletsRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const walletColumns = `user_id, balance, reserved, updated_at`
