package market

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/storage/memory"
)

func TestOverviewAggregatesHoldings(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	u1, err := store.CreateUser(ctx, user.User{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	u2, err := store.CreateUser(ctx, user.User{Username: "bob", Email: "bob@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	w1, err := store.CreateWallet(ctx, wallet.Wallet{UserID: u1.ID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	w2, err := store.CreateWallet(ctx, wallet.Wallet{UserID: u2.ID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	gold, err := store.CreateToken(ctx, token.Token{Symbol: "GLD", Name: "Gold", PriceUSD: decimal.RequireFromString("2")})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := store.CreateToken(ctx, token.Token{Symbol: "SLV", Name: "Silver", PriceUSD: decimal.RequireFromString("0.5")}); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := store.Deposit(ctx, w1.ID, gold.ID, decimal.RequireFromString("10")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := store.Deposit(ctx, w2.ID, gold.ID, decimal.RequireFromString("5")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// nil cache disables Redis; the aggregate comes straight from the store.
	svc := New(store, nil, 0, nil)
	stats, err := svc.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected stats for two tokens, got %d", len(stats))
	}

	byTok := map[string]int{}
	for i, st := range stats {
		byTok[st.Symbol] = i
	}
	g := stats[byTok["GLD"]]
	if g.Holders != 2 {
		t.Fatalf("gold holders = %d, want 2", g.Holders)
	}
	if want := decimal.RequireFromString("15"); !g.TotalHeld.Equal(want) {
		t.Fatalf("gold total held = %s, want %s", g.TotalHeld, want)
	}
	s := stats[byTok["SLV"]]
	if s.Holders != 0 || !s.TotalHeld.IsZero() {
		t.Fatalf("silver should have no holders, got %+v", s)
	}
}
