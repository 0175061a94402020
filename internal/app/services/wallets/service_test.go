package wallets

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/storage/memory"
)

type fixture struct {
	store *memory.Store
	svc   *Service
	alice wallet.Wallet
	bob   wallet.Wallet
	gold  token.Token
	ctx   context.Context
	userA user.User
	userB user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	userA, err := store.CreateUser(ctx, user.User{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	userB, err := store.CreateUser(ctx, user.User{Username: "bob", Email: "bob@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	alice, err := store.CreateWallet(ctx, wallet.Wallet{UserID: userA.ID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	bob, err := store.CreateWallet(ctx, wallet.Wallet{UserID: userB.ID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	gold, err := store.CreateToken(ctx, token.Token{Symbol: "GLD", Name: "Gold", PriceUSD: decimal.RequireFromString("2")})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	svc := New(store, store, store, store, nil, nil)
	return &fixture{store: store, svc: svc, alice: alice, bob: bob, gold: gold, ctx: ctx, userA: userA, userB: userB}
}

func TestTransferMovesBalanceAndRecordsFee(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Deposit(f.ctx, f.alice.ID, "GLD", decimal.RequireFromString("100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	record, err := f.svc.Transfer(f.ctx, TransferInput{
		FromWalletID: f.alice.ID,
		ToAddress:    f.bob.Address,
		TokenSymbol:  "GLD",
		Amount:       decimal.RequireFromString("40"),
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if record.Method != ledger.MethodTransfer || record.Status != ledger.StatusConfirmed {
		t.Fatalf("unexpected record: %+v", record)
	}
	if want := decimal.RequireFromString("0.04"); !record.Fee.Equal(want) {
		t.Fatalf("fee = %s, want %s", record.Fee, want)
	}

	from, err := f.store.GetHolding(f.ctx, f.alice.ID, f.gold.ID)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	// Fee is recorded on the audit row only; the sender still loses exactly
	// the transferred amount.
	if want := decimal.RequireFromString("60"); !from.Amount.Equal(want) {
		t.Fatalf("sender balance = %s, want %s", from.Amount, want)
	}
	to, err := f.store.GetHolding(f.ctx, f.bob.ID, f.gold.ID)
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if want := decimal.RequireFromString("40"); !to.Amount.Equal(want) {
		t.Fatalf("receiver balance = %s, want %s", to.Amount, want)
	}

	notes, err := f.store.ListNotifications(f.ctx, f.userB.ID)
	if err != nil || len(notes) != 1 {
		t.Fatalf("expected one receiver notification, got %d (%v)", len(notes), err)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Deposit(f.ctx, f.alice.ID, "GLD", decimal.RequireFromString("5")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, err := f.svc.Transfer(f.ctx, TransferInput{
		FromWalletID: f.alice.ID,
		ToAddress:    f.bob.Address,
		TokenSymbol:  "GLD",
		Amount:       decimal.RequireFromString("10"),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The failed debit must not leave a partial credit behind.
	if _, err := f.store.GetHolding(f.ctx, f.bob.ID, f.gold.ID); err == nil {
		t.Fatal("receiver should have no holding after a failed transfer")
	}
}

func TestTransferToSameWalletRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Transfer(f.ctx, TransferInput{
		FromWalletID: f.alice.ID,
		ToAddress:    f.alice.Address,
		TokenSymbol:  "GLD",
		Amount:       decimal.RequireFromString("1"),
	})
	if err == nil {
		t.Fatal("expected self-transfer to be rejected")
	}
}

func TestTransferRetainsZeroBalanceRow(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Deposit(f.ctx, f.alice.ID, "GLD", decimal.RequireFromString("10")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.svc.Transfer(f.ctx, TransferInput{
		FromWalletID: f.alice.ID,
		ToAddress:    f.bob.Address,
		TokenSymbol:  "GLD",
		Amount:       decimal.RequireFromString("10"),
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	h, err := f.store.GetHolding(f.ctx, f.alice.ID, f.gold.ID)
	if err != nil {
		t.Fatalf("zero holding should survive a full transfer: %v", err)
	}
	if !h.Amount.IsZero() {
		t.Fatalf("balance = %s, want 0", h.Amount)
	}
}

func TestDepositCreatesAuditRow(t *testing.T) {
	f := newFixture(t)

	holding, err := f.svc.Deposit(f.ctx, f.alice.ID, "GLD", decimal.RequireFromString("12.5"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if want := decimal.RequireFromString("12.5"); !holding.Amount.Equal(want) {
		t.Fatalf("holding = %s, want %s", holding.Amount, want)
	}

	txs, err := f.svc.Transactions(f.ctx, ledger.Filter{WalletID: f.alice.ID, Method: ledger.MethodDeposit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected one deposit row, got %d", len(txs))
	}
}
