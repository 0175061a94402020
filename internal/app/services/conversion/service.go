// Package conversion implements same-wallet token swaps priced through USD.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/events"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// ErrUnpriced is returned when either token has no positive USD price, which
// makes the cross rate undefined.
var ErrUnpriced = errors.New("token has no usd price")

// Service quotes and executes conversions.
type Service struct {
	tokens    storage.TokenStore
	wallets   storage.WalletStore
	ledger    storage.LedgerStore
	publisher events.Publisher
	log       *logger.Logger
}

// New constructs a conversion service.
func New(tokens storage.TokenStore, wallets storage.WalletStore, ledgerStore storage.LedgerStore, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("conversion")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{tokens: tokens, wallets: wallets, ledger: ledgerStore, publisher: publisher, log: log}
}

// Quote is a non-binding conversion preview.
type Quote struct {
	FromSymbol  string          `json:"from"`
	ToSymbol    string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Rate        decimal.Decimal `json:"rate"`
	USDValue    decimal.Decimal `json:"usd_value"`
	RawOutput   decimal.Decimal `json:"raw_output"`
	Fee         decimal.Decimal `json:"fee"`
	FinalOutput decimal.Decimal `json:"final_output"`
}

// Rate computes a quote without touching balances. The conversion crosses
// through USD: usd = amount x fromPrice, raw = usd / toPrice, then the fee
// comes out of the raw output.
func (s *Service) Rate(ctx context.Context, fromSymbol, toSymbol string, amount decimal.Decimal) (Quote, error) {
	if !amount.IsPositive() {
		return Quote{}, fmt.Errorf("amount must be positive: %w", storage.ErrInvalidArgument)
	}
	from, err := s.tokens.GetTokenBySymbol(ctx, fromSymbol)
	if err != nil {
		return Quote{}, fmt.Errorf("from token: %w", err)
	}
	to, err := s.tokens.GetTokenBySymbol(ctx, toSymbol)
	if err != nil {
		return Quote{}, fmt.Errorf("to token: %w", err)
	}
	if from.ID == to.ID {
		return Quote{}, fmt.Errorf("cannot convert a token to itself: %w", storage.ErrInvalidArgument)
	}
	if !from.Priceable() || !to.Priceable() {
		return Quote{}, ErrUnpriced
	}

	usdValue := amount.Mul(from.PriceUSD)
	rawOutput := usdValue.Div(to.PriceUSD)
	fee := rawOutput.Mul(ledger.ConversionFeeRate)

	return Quote{
		FromSymbol:  from.Symbol,
		ToSymbol:    to.Symbol,
		Amount:      amount,
		Rate:        from.PriceUSD.Div(to.PriceUSD),
		USDValue:    usdValue,
		RawOutput:   rawOutput,
		Fee:         fee,
		FinalOutput: rawOutput.Sub(fee),
	}, nil
}

// Result is a committed conversion: the quote plus its two audit rows.
type Result struct {
	Quote   Quote              `json:"quote"`
	SwapOut ledger.Transaction `json:"swap_out"`
	SwapIn  ledger.Transaction `json:"swap_in"`
}

// Convert executes a swap at the current rate. The debit, credit and both
// audit rows commit atomically; an insufficient source balance rolls the
// whole operation back.
func (s *Service) Convert(ctx context.Context, walletID, fromSymbol, toSymbol string, amount decimal.Decimal) (Result, error) {
	w, err := s.wallets.GetWallet(ctx, strings.TrimSpace(walletID))
	if err != nil {
		return Result{}, fmt.Errorf("wallet: %w", err)
	}
	quote, err := s.Rate(ctx, fromSymbol, toSymbol, amount)
	if err != nil {
		return Result{}, err
	}
	from, err := s.tokens.GetTokenBySymbol(ctx, quote.FromSymbol)
	if err != nil {
		return Result{}, err
	}
	to, err := s.tokens.GetTokenBySymbol(ctx, quote.ToSymbol)
	if err != nil {
		return Result{}, err
	}

	swapOut, swapIn, err := s.ledger.Convert(ctx, storage.ConvertParams{
		WalletID:    w.ID,
		FromTokenID: from.ID,
		ToTokenID:   to.ID,
		Amount:      amount,
		FinalOutput: quote.FinalOutput,
		Fee:         quote.Fee,
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.publisher.Publish(ctx, events.Event{Type: events.TypeConversion, Payload: map[string]any{
		"wallet_id":    w.ID,
		"from":         from.Symbol,
		"to":           to.Symbol,
		"amount":       amount.String(),
		"final_output": quote.FinalOutput.String(),
		"reference":    swapOut.Reference,
	}}); err != nil {
		s.log.WithError(err).Warn("event publish failed")
	}

	s.log.WithField("wallet_id", w.ID).
		WithField("from", from.Symbol).
		WithField("to", to.Symbol).
		WithField("reference", swapOut.Reference).
		Info("conversion completed")
	return Result{Quote: quote, SwapOut: swapOut, SwapIn: swapIn}, nil
}
