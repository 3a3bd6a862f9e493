package revenue

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fastprodman/caseledger/internal/ledger"
)

var ErrDuplicateRevenue = errors.New("duplicate revenue entry")

type Revenue interface {
	Insert(ctx context.Context, tx *sql.Tx, e ledger.RevenueEntry) error
}
