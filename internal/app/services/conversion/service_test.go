package conversion

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

func setup(t *testing.T) (*Service, *memory.Store, wallet.Wallet, token.Token, token.Token) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	u, err := store.CreateUser(ctx, user.User{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	w, err := store.CreateWallet(ctx, wallet.Wallet{UserID: u.ID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	gold, err := store.CreateToken(ctx, token.Token{Symbol: "GLD", Name: "Gold", PriceUSD: decimal.RequireFromString("2")})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	silver, err := store.CreateToken(ctx, token.Token{Symbol: "SLV", Name: "Silver", PriceUSD: decimal.RequireFromString("0.5")})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return New(store, store, store, nil, nil), store, w, gold, silver
}

func TestRateCrossesThroughUSD(t *testing.T) {
	svc, _, _, _, _ := setup(t)

	quote, err := svc.Rate(context.Background(), "GLD", "SLV", decimal.RequireFromString("10"))
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	// 10 GLD x $2 = $20; $20 / $0.5 = 40 SLV raw.
	if want := decimal.RequireFromString("20"); !quote.USDValue.Equal(want) {
		t.Fatalf("usd value = %s, want %s", quote.USDValue, want)
	}
	if want := decimal.RequireFromString("40"); !quote.RawOutput.Equal(want) {
		t.Fatalf("raw output = %s, want %s", quote.RawOutput, want)
	}
	if want := decimal.RequireFromString("0.12"); !quote.Fee.Equal(want) {
		t.Fatalf("fee = %s, want %s", quote.Fee, want)
	}
	if want := decimal.RequireFromString("39.88"); !quote.FinalOutput.Equal(want) {
		t.Fatalf("final output = %s, want %s", quote.FinalOutput, want)
	}
}

func TestRateRejectsUnpricedToken(t *testing.T) {
	svc, store, _, _, _ := setup(t)

	if _, err := store.CreateToken(context.Background(), token.Token{Symbol: "ZRO", Name: "Zero"}); err != nil {
		t.Fatalf("create token: %v", err)
	}
	_, err := svc.Rate(context.Background(), "GLD", "ZRO", decimal.RequireFromString("1"))
	if !errors.Is(err, ErrUnpriced) {
		t.Fatalf("expected ErrUnpriced, got %v", err)
	}
}

func TestConvertWritesPairedAuditRows(t *testing.T) {
	svc, store, w, gold, silver := setup(t)
	ctx := context.Background()

	if _, err := store.Deposit(ctx, w.ID, gold.ID, decimal.RequireFromString("10")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	result, err := svc.Convert(ctx, w.ID, "GLD", "SLV", decimal.RequireFromString("4"))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if result.SwapOut.Method != ledger.MethodSwapOut || result.SwapIn.Method != ledger.MethodSwapIn {
		t.Fatalf("unexpected methods: %s / %s", result.SwapOut.Method, result.SwapIn.Method)
	}
	if result.SwapOut.Reference == "" || result.SwapOut.Reference != result.SwapIn.Reference {
		t.Fatalf("legs must share a reference: %q vs %q", result.SwapOut.Reference, result.SwapIn.Reference)
	}
	if !result.SwapOut.Amount.IsNegative() {
		t.Fatalf("swap_out amount should be negative, got %s", result.SwapOut.Amount)
	}

	src, err := store.GetHolding(ctx, w.ID, gold.ID)
	if err != nil {
		t.Fatalf("source holding: %v", err)
	}
	if want := decimal.RequireFromString("6"); !src.Amount.Equal(want) {
		t.Fatalf("source balance = %s, want %s", src.Amount, want)
	}
	dst, err := store.GetHolding(ctx, w.ID, silver.ID)
	if err != nil {
		t.Fatalf("destination holding: %v", err)
	}
	if !dst.Amount.Equal(result.Quote.FinalOutput) {
		t.Fatalf("destination balance = %s, want %s", dst.Amount, result.Quote.FinalOutput)
	}
}

func TestConvertDeletesSourceHoldingAtZero(t *testing.T) {
	svc, store, w, gold, _ := setup(t)
	ctx := context.Background()

	if _, err := store.Deposit(ctx, w.ID, gold.ID, decimal.RequireFromString("10")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Convert(ctx, w.ID, "GLD", "SLV", decimal.RequireFromString("10")); err != nil {
		t.Fatalf("convert: %v", err)
	}

	// Unlike transfers, converting a full balance removes the holding row.
	if _, err := store.GetHolding(ctx, w.ID, gold.ID); err == nil {
		t.Fatal("source holding should be deleted after converting the full balance")
	}
}

func TestConvertInsufficientBalanceLeavesNothingBehind(t *testing.T) {
	svc, store, w, _, silver := setup(t)
	ctx := context.Background()

	_, err := svc.Convert(ctx, w.ID, "GLD", "SLV", decimal.RequireFromString("1"))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := store.GetHolding(ctx, w.ID, silver.ID); err == nil {
		t.Fatal("destination should not be credited on failure")
	}
	txs, err := store.ListTransactions(ctx, ledger.Filter{WalletID: w.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no audit rows after rollback, got %d", len(txs))
	}
}

func TestConvertToSameTokenRejected(t *testing.T) {
	svc, _, w, _, _ := setup(t)

	if _, err := svc.Convert(context.Background(), w.ID, "GLD", "GLD", decimal.RequireFromString("1")); err == nil {
		t.Fatal("expected same-token conversion to be rejected")
	}
}
