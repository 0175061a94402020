// Package wallet defines wallets and per-token balance holdings.
package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a per-user container of token balances, identified by an address.
type Wallet struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Holding is the balance of one token in one wallet. Amount is never negative
// in any committed state.
type Holding struct {
	WalletID  string          `json:"wallet_id"`
	TokenID   string          `json:"token_id"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewAddress returns a random 0x-prefixed 40-hex-char wallet address. The
// address is an opaque identifier, not a key-derived commitment.
func NewAddress() string {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)
	return "0x" + hex.EncodeToString(buf)
}
