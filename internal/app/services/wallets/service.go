// Package wallets manages wallets, holdings and the transfer flow.
package wallets

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/notification"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/events"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// Service manages wallets and executes transfers and deposits.
type Service struct {
	store         storage.WalletStore
	tokens        storage.TokenStore
	ledger        storage.LedgerStore
	notifications storage.NotificationStore
	publisher     events.Publisher
	log           *logger.Logger
}

// New constructs a wallet service.
func New(store storage.WalletStore, tokens storage.TokenStore, ledgerStore storage.LedgerStore, notifications storage.NotificationStore, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallets")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{store: store, tokens: tokens, ledger: ledgerStore, notifications: notifications, publisher: publisher, log: log}
}

// Create registers a wallet for a user with a generated address.
func (s *Service) Create(ctx context.Context, userID, label string) (wallet.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return wallet.Wallet{}, fmt.Errorf("user_id is required: %w", storage.ErrInvalidArgument)
	}
	created, err := s.store.CreateWallet(ctx, wallet.Wallet{UserID: userID, Label: strings.TrimSpace(label)})
	if err != nil {
		return wallet.Wallet{}, err
	}
	s.log.WithField("wallet_id", created.ID).WithField("user_id", userID).Info("wallet created")
	return created, nil
}

// Get returns a wallet by id.
func (s *Service) Get(ctx context.Context, id string) (wallet.Wallet, error) {
	return s.store.GetWallet(ctx, id)
}

// GetByAddress returns a wallet by its 0x address.
func (s *Service) GetByAddress(ctx context.Context, address string) (wallet.Wallet, error) {
	return s.store.GetWalletByAddress(ctx, strings.TrimSpace(address))
}

// ListByUser returns all wallets owned by a user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]wallet.Wallet, error) {
	return s.store.ListWalletsByUser(ctx, userID)
}

// Holdings returns the balances held by a wallet.
func (s *Service) Holdings(ctx context.Context, walletID string) ([]wallet.Holding, error) {
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return s.store.ListHoldings(ctx, walletID)
}

// TransferInput describes a transfer request.
type TransferInput struct {
	FromWalletID string
	ToAddress    string
	TokenSymbol  string
	Amount       decimal.Decimal
}

// Transfer moves tokens between wallets. The fee is recorded on the audit
// row, never deducted from either side. Notifications and the broker event
// are best effort.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (ledger.Transaction, error) {
	if !in.Amount.IsPositive() {
		return ledger.Transaction{}, fmt.Errorf("amount must be positive: %w", storage.ErrInvalidArgument)
	}

	from, err := s.store.GetWallet(ctx, in.FromWalletID)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("from wallet: %w", err)
	}
	to, err := s.store.GetWalletByAddress(ctx, strings.TrimSpace(in.ToAddress))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("to wallet: %w", err)
	}
	if from.ID == to.ID {
		return ledger.Transaction{}, fmt.Errorf("cannot transfer to the same wallet: %w", storage.ErrInvalidArgument)
	}
	tok, err := s.tokens.GetTokenBySymbol(ctx, in.TokenSymbol)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("token: %w", err)
	}

	record, err := s.ledger.Transfer(ctx, storage.TransferParams{
		FromWalletID: from.ID,
		ToWalletID:   to.ID,
		TokenID:      tok.ID,
		Amount:       in.Amount,
		Fee:          ledger.TransferFee(in.Amount),
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.notify(ctx, from.UserID, notification.TypeTransferOut,
		fmt.Sprintf("Sent %s %s to %s", in.Amount, tok.Symbol, to.Address))
	s.notify(ctx, to.UserID, notification.TypeTransferIn,
		fmt.Sprintf("Received %s %s from %s", in.Amount, tok.Symbol, from.Address))
	s.publish(ctx, events.TypeTransfer, map[string]any{
		"transaction_id": record.ID,
		"hash":           record.Hash,
		"from_wallet_id": from.ID,
		"to_wallet_id":   to.ID,
		"token":          tok.Symbol,
		"amount":         in.Amount.String(),
		"fee":            record.Fee.String(),
	})

	s.log.WithField("hash", record.Hash).
		WithField("from_wallet_id", from.ID).
		WithField("to_wallet_id", to.ID).
		WithField("token", tok.Symbol).
		Info("transfer completed")
	return record, nil
}

// Deposit credits a wallet from the faucet and records a deposit row.
func (s *Service) Deposit(ctx context.Context, walletID, tokenSymbol string, amount decimal.Decimal) (wallet.Holding, error) {
	if !amount.IsPositive() {
		return wallet.Holding{}, fmt.Errorf("amount must be positive: %w", storage.ErrInvalidArgument)
	}
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return wallet.Holding{}, err
	}
	tok, err := s.tokens.GetTokenBySymbol(ctx, tokenSymbol)
	if err != nil {
		return wallet.Holding{}, fmt.Errorf("token: %w", err)
	}

	holding, err := s.ledger.Deposit(ctx, w.ID, tok.ID, amount)
	if err != nil {
		return wallet.Holding{}, err
	}
	s.publish(ctx, events.TypeDeposit, map[string]any{
		"wallet_id": w.ID,
		"token":     tok.Symbol,
		"amount":    amount.String(),
	})
	s.log.WithField("wallet_id", w.ID).WithField("token", tok.Symbol).Info("deposit credited")
	return holding, nil
}

// Transactions lists ledger audit rows matching the filter.
func (s *Service) Transactions(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	return s.ledger.ListTransactions(ctx, f)
}

// TransactionByHash returns one audit row by its hash.
func (s *Service) TransactionByHash(ctx context.Context, hash string) (ledger.Transaction, error) {
	return s.ledger.GetTransactionByHash(ctx, strings.TrimSpace(hash))
}

func (s *Service) notify(ctx context.Context, userID, typ, message string) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.CreateNotification(ctx, notification.Notification{
		UserID:  userID,
		Type:    typ,
		Message: message,
	}); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("notification failed")
	}
}

func (s *Service) publish(ctx context.Context, typ string, payload map[string]any) {
	if err := s.publisher.Publish(ctx, events.Event{Type: typ, Payload: payload}); err != nil {
		s.log.WithError(err).WithField("type", typ).Warn("event publish failed")
	}
}
