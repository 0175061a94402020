// Package tokens manages token definitions and their USD prices.
package tokens

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// Service manages tokens.
type Service struct {
	store storage.TokenStore
	log   *logger.Logger
}

// New constructs a token service.
func New(store storage.TokenStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tokens")
	}
	return &Service{store: store, log: log}
}

// Create registers a token. Symbols are uppercased and must be unique.
func (s *Service) Create(ctx context.Context, symbol, name string, priceUSD decimal.Decimal) (token.Token, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	name = strings.TrimSpace(name)
	if symbol == "" || name == "" {
		return token.Token{}, fmt.Errorf("symbol and name are required: %w", storage.ErrInvalidArgument)
	}
	if priceUSD.IsNegative() {
		return token.Token{}, fmt.Errorf("price cannot be negative: %w", storage.ErrInvalidArgument)
	}
	created, err := s.store.CreateToken(ctx, token.Token{Symbol: symbol, Name: name, PriceUSD: priceUSD})
	if err != nil {
		return token.Token{}, err
	}
	s.log.WithField("token_id", created.ID).WithField("symbol", symbol).Info("token created")
	return created, nil
}

// Get returns a token by id.
func (s *Service) Get(ctx context.Context, id string) (token.Token, error) {
	return s.store.GetToken(ctx, id)
}

// GetBySymbol returns a token by symbol.
func (s *Service) GetBySymbol(ctx context.Context, symbol string) (token.Token, error) {
	return s.store.GetTokenBySymbol(ctx, symbol)
}

// List returns all tokens ordered by symbol.
func (s *Service) List(ctx context.Context) ([]token.Token, error) {
	return s.store.ListTokens(ctx)
}

// SetPrice updates a token's USD price.
func (s *Service) SetPrice(ctx context.Context, id string, priceUSD decimal.Decimal) (token.Token, error) {
	if !priceUSD.IsPositive() {
		return token.Token{}, fmt.Errorf("price must be positive: %w", storage.ErrInvalidArgument)
	}
	updated, err := s.store.UpdateTokenPrice(ctx, id, priceUSD)
	if err != nil {
		return token.Token{}, err
	}
	s.log.WithField("token_id", id).WithField("price_usd", priceUSD.String()).Info("token price updated")
	return updated, nil
}
