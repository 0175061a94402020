// Package app assembles the explorer services over their stores.
package app

import (
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/blockscope/explorer/internal/app/events"
	"github.com/blockscope/explorer/internal/app/mail"
	blocksvc "github.com/blockscope/explorer/internal/app/services/blocks"
	conversionsvc "github.com/blockscope/explorer/internal/app/services/conversion"
	marketsvc "github.com/blockscope/explorer/internal/app/services/market"
	p2psvc "github.com/blockscope/explorer/internal/app/services/p2p"
	searchsvc "github.com/blockscope/explorer/internal/app/services/search"
	tokensvc "github.com/blockscope/explorer/internal/app/services/tokens"
	usersvc "github.com/blockscope/explorer/internal/app/services/users"
	walletsvc "github.com/blockscope/explorer/internal/app/services/wallets"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/internal/app/storage/memory"
	"github.com/blockscope/explorer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users         storage.UserStore
	Wallets       storage.WalletStore
	Tokens        storage.TokenStore
	Blocks        storage.BlockStore
	Ledger        storage.LedgerStore
	P2P           storage.P2PStore
	Notifications storage.NotificationStore
	Market        storage.MarketStore
}

// Options carries the optional outward-facing dependencies.
type Options struct {
	Publisher      events.Publisher
	Mailer         mail.Sender
	MarketCache    *redis.Client
	MarketCacheTTL time.Duration
}

// Application ties the explorer services together.
type Application struct {
	log *logger.Logger

	Users      *usersvc.Service
	Wallets    *walletsvc.Service
	Tokens     *tokensvc.Service
	Blocks     *blocksvc.Service
	Conversion *conversionsvc.Service
	P2P        *p2psvc.Service
	Market     *marketsvc.Service
	Search     *searchsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Wallets == nil {
		stores.Wallets = mem
	}
	if stores.Tokens == nil {
		stores.Tokens = mem
	}
	if stores.Blocks == nil {
		stores.Blocks = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.P2P == nil {
		stores.P2P = mem
	}
	if stores.Notifications == nil {
		stores.Notifications = mem
	}
	if stores.Market == nil {
		stores.Market = mem
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}

	return &Application{
		log:        log,
		Users:      usersvc.New(stores.Users, stores.Wallets, stores.Notifications, opts.Mailer, log),
		Wallets:    walletsvc.New(stores.Wallets, stores.Tokens, stores.Ledger, stores.Notifications, opts.Publisher, log),
		Tokens:     tokensvc.New(stores.Tokens, log),
		Blocks:     blocksvc.New(stores.Blocks, log),
		Conversion: conversionsvc.New(stores.Tokens, stores.Wallets, stores.Ledger, opts.Publisher, log),
		P2P:        p2psvc.New(stores.P2P, stores.Tokens, stores.Wallets, stores.Blocks, stores.Ledger, stores.Notifications, opts.Publisher, log),
		Market:     marketsvc.New(stores.Market, opts.MarketCache, opts.MarketCacheTTL, log),
		Search:     searchsvc.New(stores.Blocks, stores.Ledger, stores.Wallets, stores.Tokens, log),
	}
}
