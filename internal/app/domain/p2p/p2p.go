// Package p2p defines the resting order book and the escrow-like
// buyer/seller transaction state machine.
package p2p

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses.
const (
	OrderActive    = "active"
	OrderCancelled = "cancelled"
	OrderFilled    = "filled"
)

// Transaction statuses. Allowed transitions:
//
//	pending -> paid -> completed
//	pending -> cancelled
//	pending|paid -> disputed
//
// Only the transition into completed moves balance.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCompleted = "completed"
	StatusDisputed  = "disputed"
	StatusCancelled = "cancelled"
)

var (
	// ErrInvalidTransition is returned for a status change the state machine
	// does not permit.
	ErrInvalidTransition = errors.New("invalid p2p status transition")

	// ErrForbidden is returned when the acting user may not perform the
	// requested transition.
	ErrForbidden = errors.New("action not permitted for this user")
)

// Order is a resting buy/sell intent. Total is computed once at creation as
// amount x price and never recalculated.
type Order struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Side      string          `json:"side"`
	TokenID   string          `json:"token_id"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is a mutable escrow-like record. Amount and price are frozen at
// creation; the record mutates in place until it reaches a terminal state.
type Transaction struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id,omitempty"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	TokenID     string          `json:"token_id"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Terminal reports whether no further transitions are allowed.
func (t Transaction) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving to next.
func (t Transaction) CanTransition(next string) bool {
	switch next {
	case StatusPaid:
		return t.Status == StatusPending
	case StatusCompleted:
		return t.Status == StatusPaid
	case StatusCancelled:
		return t.Status == StatusPending
	case StatusDisputed:
		return t.Status == StatusPending || t.Status == StatusPaid
	}
	return false
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status  string
	Side    string
	TokenID string
	UserID  string
}
