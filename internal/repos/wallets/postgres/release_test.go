package wallets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fastprodman/caseledger/internal/infra/pgtestutil"
	"github.com/fastprodman/caseledger/internal/repos/wallets"
	"github.com/google/uuid"
)

func TestWallets_ReleaseAndConsume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		op           string
		reserved     int64
		amount       int64
		wantErr      error
		wantBalance  int64
		wantReserved int64
	}{
		{
			name:         "release_returns_funds",
			op:           "release",
			reserved:     2_000,
			amount:       2_000,
			wantBalance:  2_500,
			wantReserved: 0,
		},
		{
			name:         "consume_drops_reservation_only",
			op:           "consume",
			reserved:     2_000,
			amount:       2_000,
			wantBalance:  500,
			wantReserved: 0,
		},
		{
			name:         "release_more_than_reserved",
			op:           "release",
			reserved:     1_000,
			amount:       2_000,
			wantErr:      wallets.ErrReservationMismatch,
			wantBalance:  500,
			wantReserved: 1_000,
		},
		{
			name:         "consume_more_than_reserved",
			op:           "consume",
			reserved:     0,
			amount:       1,
			wantErr:      wallets.ErrReservationMismatch,
			wantBalance:  500,
			wantReserved: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			userID := uuid.New()
			seedWallet(t, db, userID, 500, tt.reserved)

			repo := New(db)

			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("begin tx: %v", err)
			}
			defer func() { _ = tx.Rollback() }()

			if tt.op == "release" {
				err = repo.Release(ctx, tx, userID, tt.amount)
			} else {
				err = repo.ConsumeReservation(ctx, tx, userID, tt.amount)
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}

			if err == nil {
				err = tx.Commit()
				if err != nil {
					t.Fatalf("commit: %v", err)
				}
			}

			got, err := repo.Get(ctx, userID)
			if err != nil {
				t.Fatalf("get wallet: %v", err)
			}

			if got.BalanceMinor != tt.wantBalance || got.ReservedMinor != tt.wantReserved {
				t.Fatalf("wallet mismatch: want %d/%d, got %d/%d",
					tt.wantBalance, tt.wantReserved, got.BalanceMinor, got.ReservedMinor)
			}
		})
	}
}
