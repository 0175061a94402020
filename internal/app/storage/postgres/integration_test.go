//go:build integration && postgres

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/internal/platform/database"
)

// Integration test against Postgres to ensure migrations + the guarded
// ledger flows work with real persistence.
func TestIntegrationPostgresLedger(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)

	alice, err := store.CreateUser(ctx, user.User{Username: "it-alice", Email: "it-alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bob, err := store.CreateUser(ctx, user.User{Username: "it-bob", Email: "it-bob@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	aliceWallet, err := store.CreateWallet(ctx, wallet.Wallet{UserID: alice.ID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	bobWallet, err := store.CreateWallet(ctx, wallet.Wallet{UserID: bob.ID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	gold, err := store.CreateToken(ctx, token.Token{Symbol: "ITGLD", Name: "Integration Gold", PriceUSD: decimal.RequireFromString("2")})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	if _, err := store.Deposit(ctx, aliceWallet.ID, gold.ID, decimal.RequireFromString("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	record, err := store.Transfer(ctx, storage.TransferParams{
		FromWalletID: aliceWallet.ID,
		ToWalletID:   bobWallet.ID,
		TokenID:      gold.ID,
		Amount:       decimal.RequireFromString("40"),
		Fee:          decimal.RequireFromString("0.04"),
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got, err := store.GetTransactionByHash(ctx, record.Hash)
	if err != nil || got.Method != ledger.MethodTransfer {
		t.Fatalf("get by hash: %+v (%v)", got, err)
	}

	from, err := store.GetHolding(ctx, aliceWallet.ID, gold.ID)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if want := decimal.RequireFromString("60"); !from.Amount.Equal(want) {
		t.Fatalf("sender balance = %s, want %s", from.Amount, want)
	}

	// The balance guard rejects an overdraw and rolls the whole flow back.
	if _, err := store.Transfer(ctx, storage.TransferParams{
		FromWalletID: aliceWallet.ID,
		ToWalletID:   bobWallet.ID,
		TokenID:      gold.ID,
		Amount:       decimal.RequireFromString("1000"),
		Fee:          decimal.RequireFromString("1"),
	}); err == nil {
		t.Fatal("expected overdraw to fail")
	}
	to, err := store.GetHolding(ctx, bobWallet.ID, gold.ID)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if want := decimal.RequireFromString("40"); !to.Amount.Equal(want) {
		t.Fatalf("receiver balance = %s, want %s", to.Amount, want)
	}
}
