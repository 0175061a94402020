// Package search resolves a free-form query to an explorer entity.
package search

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// Result types.
const (
	TypeBlock       = "block"
	TypeTransaction = "transaction"
	TypeWallet      = "wallet"
	TypeToken       = "token"
)

// Result is one search hit.
type Result struct {
	Type   string `json:"type"`
	Entity any    `json:"entity"`
}

// Service resolves queries against blocks, transactions, wallets and tokens.
type Service struct {
	blocks  storage.BlockStore
	ledger  storage.LedgerStore
	wallets storage.WalletStore
	tokens  storage.TokenStore
	log     *logger.Logger
}

// New constructs a search service.
func New(blocks storage.BlockStore, ledgerStore storage.LedgerStore, wallets storage.WalletStore, tokens storage.TokenStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("search")
	}
	return &Service{blocks: blocks, ledger: ledgerStore, wallets: wallets, tokens: tokens, log: log}
}

// Query inspects the input shape and probes the matching stores. A bare
// integer is a block height; a 66-char 0x string is a block or transaction
// hash; a 42-char 0x string is a wallet address; anything else is tried as a
// token symbol. Returns every match, so a hash shared between a block and a
// transaction yields both.
func (s *Service) Query(ctx context.Context, q string) ([]Result, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}

	var results []Result

	if height, err := strconv.ParseInt(q, 10, 64); err == nil && height > 0 {
		if b, err := s.blocks.GetBlockByHeight(ctx, height); err == nil {
			results = append(results, Result{Type: TypeBlock, Entity: b})
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return results, nil
	}

	if strings.HasPrefix(q, "0x") {
		switch len(q) {
		case 66:
			if b, err := s.blocks.GetBlockByHash(ctx, q); err == nil {
				results = append(results, Result{Type: TypeBlock, Entity: b})
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			if t, err := s.ledger.GetTransactionByHash(ctx, q); err == nil {
				results = append(results, Result{Type: TypeTransaction, Entity: t})
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		case 42:
			if w, err := s.wallets.GetWalletByAddress(ctx, q); err == nil {
				results = append(results, Result{Type: TypeWallet, Entity: w})
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		}
		return results, nil
	}

	if t, err := s.tokens.GetTokenBySymbol(ctx, q); err == nil {
		results = append(results, Result{Type: TypeToken, Entity: t})
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return results, nil
}
