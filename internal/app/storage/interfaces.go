// Package storage defines the persistence interfaces consumed by the
// explorer services. Implementations: postgres (production) and memory
// (tests, local development).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/block"
	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/notification"
	"github.com/blockscope/explorer/internal/app/domain/p2p"
	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
)

// ErrNotFound is returned when a referenced record does not exist. The
// postgres store translates sql.ErrNoRows into it.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned for uniqueness violations (duplicate email,
// duplicate token symbol).
var ErrConflict = errors.New("record already exists")

// ErrInvalidArgument marks input the caller can correct. Services wrap their
// validation failures with it so the HTTP layer can tell client faults from
// storage faults.
var ErrInvalidArgument = errors.New("invalid argument")

// UserStore persists users and email verifications.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)

	CreateEmailVerification(ctx context.Context, v user.EmailVerification) (user.EmailVerification, error)
	GetEmailVerification(ctx context.Context, email, code string) (user.EmailVerification, error)
	DeleteEmailVerifications(ctx context.Context, userID string) error
}

// WalletStore persists wallets and reads holdings. Holding mutations go
// through LedgerStore so they stay inside transaction boundaries.
type WalletStore interface {
	CreateWallet(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error)
	GetWallet(ctx context.Context, id string) (wallet.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (wallet.Wallet, error)
	ListWalletsByUser(ctx context.Context, userID string) ([]wallet.Wallet, error)

	GetHolding(ctx context.Context, walletID, tokenID string) (wallet.Holding, error)
	ListHoldings(ctx context.Context, walletID string) ([]wallet.Holding, error)
}

// TokenStore persists token definitions.
type TokenStore interface {
	CreateToken(ctx context.Context, t token.Token) (token.Token, error)
	GetToken(ctx context.Context, id string) (token.Token, error)
	GetTokenBySymbol(ctx context.Context, symbol string) (token.Token, error)
	ListTokens(ctx context.Context) ([]token.Token, error)
	UpdateTokenPrice(ctx context.Context, id string, price decimal.Decimal) (token.Token, error)
}

// BlockStore persists blocks and validators.
type BlockStore interface {
	CreateBlock(ctx context.Context, b block.Block) (block.Block, error)
	GetBlockByHeight(ctx context.Context, height int64) (block.Block, error)
	GetBlockByHash(ctx context.Context, hash string) (block.Block, error)
	ListBlocks(ctx context.Context, limit, offset int) ([]block.Block, error)
	LatestBlock(ctx context.Context) (block.Block, error)

	CreateValidator(ctx context.Context, v block.Validator) (block.Validator, error)
	GetValidator(ctx context.Context, id string) (block.Validator, error)
	ListValidators(ctx context.Context) ([]block.Validator, error)
	UpdateValidator(ctx context.Context, v block.Validator) (block.Validator, error)
}

// TransferParams describes a simple send between two wallets.
type TransferParams struct {
	FromWalletID string
	ToWalletID   string
	TokenID      string
	Amount       decimal.Decimal
	Fee          decimal.Decimal
}

// ConvertParams describes a same-wallet token swap. FinalOutput is the
// post-fee amount credited in the destination token.
type ConvertParams struct {
	WalletID    string
	FromTokenID string
	ToTokenID   string
	Amount      decimal.Decimal
	FinalOutput decimal.Decimal
	Fee         decimal.Decimal
}

// SettleP2PParams moves escrowed value from seller to buyer on completion.
type SettleP2PParams struct {
	P2PTransactionID string
	FromWalletID     string
	ToWalletID       string
	TokenID          string
	Amount           decimal.Decimal
	Fee              decimal.Decimal
	BlockID          string
}

// LedgerStore executes the balance-affecting flows. Each method is one
// all-or-nothing unit of work: debit, credit and audit-row insert either all
// commit or all roll back. Debits are conditional on sufficient balance and
// report ledger.ErrInsufficientBalance when the condition fails.
type LedgerStore interface {
	Transfer(ctx context.Context, p TransferParams) (ledger.Transaction, error)
	Convert(ctx context.Context, p ConvertParams) (swapOut, swapIn ledger.Transaction, err error)
	SettleP2P(ctx context.Context, p SettleP2PParams) (ledger.Transaction, error)
	Deposit(ctx context.Context, walletID, tokenID string, amount decimal.Decimal) (wallet.Holding, error)

	GetTransactionByHash(ctx context.Context, hash string) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error)
	CountTransfersSince(ctx context.Context, tokenID string, since time.Time) (decimal.Decimal, error)
}

// P2PStore persists orders and escrow transactions.
type P2PStore interface {
	CreateOrder(ctx context.Context, o p2p.Order) (p2p.Order, error)
	GetOrder(ctx context.Context, id string) (p2p.Order, error)
	ListOrders(ctx context.Context, f p2p.OrderFilter) ([]p2p.Order, error)
	UpdateOrder(ctx context.Context, o p2p.Order) (p2p.Order, error)

	CreateP2PTransaction(ctx context.Context, tx p2p.Transaction) (p2p.Transaction, error)
	GetP2PTransaction(ctx context.Context, id string) (p2p.Transaction, error)
	UpdateP2PTransaction(ctx context.Context, tx p2p.Transaction) (p2p.Transaction, error)
	ListP2PTransactionsByUser(ctx context.Context, userID string) ([]p2p.Transaction, error)
}

// NotificationStore persists notification records.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	ListNotifications(ctx context.Context, userID string) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// TokenMarketStats is one row of the market overview aggregate.
type TokenMarketStats struct {
	TokenID   string          `json:"token_id"`
	Symbol    string          `json:"symbol"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Holders   int64           `json:"holders"`
	TotalHeld decimal.Decimal `json:"total_held"`
	Volume24h decimal.Decimal `json:"volume_24h"`
}

// MarketStore computes per-token aggregates for the market overview.
type MarketStore interface {
	MarketOverview(ctx context.Context) ([]TokenMarketStats, error)
}
