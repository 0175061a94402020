// Package ledger defines the immutable audit records of balance-affecting
// events and the fee schedule applied to them.
package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Methods recorded on audit rows.
const (
	MethodTransfer = "transfer"
	MethodDeposit  = "deposit"
	MethodSwapOut  = "swap_out"
	MethodSwapIn   = "swap_in"
	MethodP2P      = "p2p"
)

// Statuses. Simple transfers pass through pending and are confirmed within
// the same logical operation; no separate confirmation step exists.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// Fee rates. Fees are recorded on the audit row and never moved to any
// fee-collection wallet.
var (
	TransferFeeRate   = decimal.RequireFromString("0.001")
	ConversionFeeRate = decimal.RequireFromString("0.003")
)

// ErrInsufficientBalance is returned when a debit would take a holding
// negative. The enclosing database transaction is rolled back whole.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Transaction is an append-only audit record. Amount is signed: negative for
// the debit leg of a swap, positive otherwise.
type Transaction struct {
	ID           string          `json:"id"`
	Hash         string          `json:"hash"`
	FromWalletID string          `json:"from_wallet_id,omitempty"`
	ToWalletID   string          `json:"to_wallet_id,omitempty"`
	TokenID      string          `json:"token_id"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	Method       string          `json:"method"`
	Status       string          `json:"status"`
	Reference    string          `json:"reference,omitempty"`
	BlockID      string          `json:"block_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Filter narrows transaction listings.
type Filter struct {
	WalletID string
	TokenID  string
	Method   string
	Status   string
	Limit    int
	Offset   int
}

// TransferFee returns amount x 0.001.
func TransferFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(TransferFeeRate)
}

// NewHash returns a random 0x-prefixed 64-hex-char transaction hash. It is an
// opaque identifier, not a commitment over the row contents.
func NewHash() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "0x" + hex.EncodeToString(buf)
}
