// Package token defines fungible asset definitions.
package token

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is a fungible asset. PriceUSD is a reference price used for display
// and conversion math only; it carries no staleness guarantees.
type Token struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Priceable reports whether the token can participate in conversions.
func (t Token) Priceable() bool {
	return t.PriceUSD.IsPositive()
}
