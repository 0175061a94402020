// Package p2p implements the order book and the escrow state machine.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/notification"
	"github.com/blockscope/explorer/internal/app/domain/p2p"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/events"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// Service manages orders and escrow transactions. Accepting an order never
// reserves balance; the completion step is the only point where value moves,
// and its conditional debit decides races between concurrent acceptors.
type Service struct {
	store         storage.P2PStore
	tokens        storage.TokenStore
	wallets       storage.WalletStore
	blocks        storage.BlockStore
	ledger        storage.LedgerStore
	notifications storage.NotificationStore
	publisher     events.Publisher
	log           *logger.Logger
}

// New constructs a p2p service.
func New(store storage.P2PStore, tokens storage.TokenStore, wallets storage.WalletStore, blocks storage.BlockStore, ledgerStore storage.LedgerStore, notifications storage.NotificationStore, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("p2p")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		store:         store,
		tokens:        tokens,
		wallets:       wallets,
		blocks:        blocks,
		ledger:        ledgerStore,
		notifications: notifications,
		publisher:     publisher,
		log:           log,
	}
}

// CreateOrder lists a buy or sell offer. Total is computed once at creation
// and never recomputed, so later price edits cannot skew historical orders.
func (s *Service) CreateOrder(ctx context.Context, userID, side, tokenSymbol string, amount, price decimal.Decimal) (p2p.Order, error) {
	side = strings.ToLower(strings.TrimSpace(side))
	if side != p2p.SideBuy && side != p2p.SideSell {
		return p2p.Order{}, fmt.Errorf("side must be %q or %q: %w", p2p.SideBuy, p2p.SideSell, storage.ErrInvalidArgument)
	}
	if !amount.IsPositive() || !price.IsPositive() {
		return p2p.Order{}, fmt.Errorf("amount and price must be positive: %w", storage.ErrInvalidArgument)
	}
	tok, err := s.tokens.GetTokenBySymbol(ctx, tokenSymbol)
	if err != nil {
		return p2p.Order{}, fmt.Errorf("token: %w", err)
	}
	if side == p2p.SideSell {
		if err := s.checkSellerBalance(ctx, userID, tok.ID, amount); err != nil {
			return p2p.Order{}, err
		}
	}

	created, err := s.store.CreateOrder(ctx, p2p.Order{
		UserID:  userID,
		Side:    side,
		TokenID: tok.ID,
		Amount:  amount,
		Price:   price,
		Total:   amount.Mul(price),
		Status:  p2p.OrderActive,
	})
	if err != nil {
		return p2p.Order{}, err
	}
	s.log.WithField("order_id", created.ID).
		WithField("side", side).
		WithField("token", tok.Symbol).
		Info("order created")
	return created, nil
}

// GetOrder returns one order.
func (s *Service) GetOrder(ctx context.Context, id string) (p2p.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns orders matching the filter.
func (s *Service) ListOrders(ctx context.Context, f p2p.OrderFilter) ([]p2p.Order, error) {
	return s.store.ListOrders(ctx, f)
}

// CancelOrder withdraws an active order. Only the owner may cancel.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID string) (p2p.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return p2p.Order{}, err
	}
	if o.UserID != actorID {
		return p2p.Order{}, p2p.ErrForbidden
	}
	if o.Status != p2p.OrderActive {
		return p2p.Order{}, fmt.Errorf("order is %s: %w", o.Status, p2p.ErrInvalidTransition)
	}
	o.Status = p2p.OrderCancelled
	updated, err := s.store.UpdateOrder(ctx, o)
	if err != nil {
		return p2p.Order{}, err
	}
	s.log.WithField("order_id", orderID).Info("order cancelled")
	return updated, nil
}

// Accept opens an escrow transaction against an active order. No balance is
// reserved: several acceptances may exist for one order at once, and the
// first completion wins. The order owner cannot accept their own order.
func (s *Service) Accept(ctx context.Context, orderID, actorID string) (p2p.Transaction, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return p2p.Transaction{}, err
	}
	if o.Status != p2p.OrderActive {
		return p2p.Transaction{}, fmt.Errorf("order is %s: %w", o.Status, p2p.ErrInvalidTransition)
	}
	if o.UserID == actorID {
		return p2p.Transaction{}, p2p.ErrForbidden
	}

	buyerID, sellerID := actorID, o.UserID
	if o.Side == p2p.SideBuy {
		buyerID, sellerID = o.UserID, actorID
	}
	if err := s.checkSellerBalance(ctx, sellerID, o.TokenID, o.Amount); err != nil {
		return p2p.Transaction{}, err
	}

	created, err := s.store.CreateP2PTransaction(ctx, p2p.Transaction{
		OrderID:  o.ID,
		BuyerID:  buyerID,
		SellerID: sellerID,
		TokenID:  o.TokenID,
		Amount:   o.Amount,
		Price:    o.Price,
		Status:   p2p.StatusPending,
	})
	if err != nil {
		return p2p.Transaction{}, err
	}

	s.notify(ctx, o.UserID, fmt.Sprintf("Your order %s was accepted", o.ID))
	s.log.WithField("order_id", o.ID).
		WithField("p2p_transaction_id", created.ID).
		WithField("buyer_id", buyerID).
		WithField("seller_id", sellerID).
		Info("order accepted")
	return created, nil
}

// GetTransaction returns one escrow transaction.
func (s *Service) GetTransaction(ctx context.Context, id string) (p2p.Transaction, error) {
	return s.store.GetP2PTransaction(ctx, id)
}

// ListTransactionsByUser returns escrow transactions where the user is buyer
// or seller.
func (s *Service) ListTransactionsByUser(ctx context.Context, userID string) ([]p2p.Transaction, error) {
	return s.store.ListP2PTransactionsByUser(ctx, userID)
}

// MarkPaid acknowledges the buyer's off-platform payment. Seller only,
// pending only. The seller's balance is re-checked, still without reserving
// anything.
func (s *Service) MarkPaid(ctx context.Context, txID, actorID string) (p2p.Transaction, error) {
	tx, err := s.store.GetP2PTransaction(ctx, txID)
	if err != nil {
		return p2p.Transaction{}, err
	}
	if tx.SellerID != actorID {
		return p2p.Transaction{}, p2p.ErrForbidden
	}
	if err := s.checkSellerBalance(ctx, tx.SellerID, tx.TokenID, tx.Amount); err != nil {
		return p2p.Transaction{}, err
	}
	updated, err := s.transition(ctx, tx, p2p.StatusPaid)
	if err != nil {
		return p2p.Transaction{}, err
	}
	s.notify(ctx, tx.BuyerID, fmt.Sprintf("Seller marked escrow %s as paid", tx.ID))
	return updated, nil
}

// Complete releases the escrow: the tokens move from seller to buyer. Either
// party may complete, paid only. This is the single balance-affecting step of
// the escrow lifecycle; an insufficient seller balance fails the call and
// leaves the transaction in paid.
func (s *Service) Complete(ctx context.Context, txID, actorID string) (p2p.Transaction, error) {
	tx, err := s.store.GetP2PTransaction(ctx, txID)
	if err != nil {
		return p2p.Transaction{}, err
	}
	if tx.BuyerID != actorID && tx.SellerID != actorID {
		return p2p.Transaction{}, p2p.ErrForbidden
	}
	if !tx.CanTransition(p2p.StatusCompleted) {
		return p2p.Transaction{}, fmt.Errorf("%s to %s: %w", tx.Status, p2p.StatusCompleted, p2p.ErrInvalidTransition)
	}

	sellerWallet, err := s.primaryWallet(ctx, tx.SellerID)
	if err != nil {
		return p2p.Transaction{}, fmt.Errorf("seller wallet: %w", err)
	}
	buyerWallet, err := s.primaryWallet(ctx, tx.BuyerID)
	if err != nil {
		return p2p.Transaction{}, fmt.Errorf("buyer wallet: %w", err)
	}

	// The settlement row is pinned to the latest block for display. Missing
	// blocks are fine; the reference is cosmetic.
	var blockID string
	if s.blocks != nil {
		if b, err := s.blocks.LatestBlock(ctx); err == nil {
			blockID = b.ID
		} else if !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).Warn("latest block lookup failed")
		}
	}

	record, err := s.ledger.SettleP2P(ctx, storage.SettleP2PParams{
		P2PTransactionID: tx.ID,
		FromWalletID:     sellerWallet.ID,
		ToWalletID:       buyerWallet.ID,
		TokenID:          tx.TokenID,
		Amount:           tx.Amount,
		Fee:              tx.Amount.Mul(ledger.TransferFeeRate),
		BlockID:          blockID,
	})
	if err != nil {
		return p2p.Transaction{}, err
	}

	tx.CompletedAt = time.Now().UTC()
	updated, err := s.transition(ctx, tx, p2p.StatusCompleted)
	if err != nil {
		// Balance already moved; surface loudly rather than retrying.
		s.log.WithError(err).
			WithField("p2p_transaction_id", tx.ID).
			Error("escrow settled but status update failed")
		return p2p.Transaction{}, err
	}

	if tx.OrderID != "" {
		if o, err := s.store.GetOrder(ctx, tx.OrderID); err == nil && o.Status == p2p.OrderActive {
			o.Status = p2p.OrderFilled
			if _, err := s.store.UpdateOrder(ctx, o); err != nil {
				s.log.WithError(err).WithField("order_id", o.ID).Warn("order fill update failed")
			}
		}
	}

	s.notify(ctx, tx.BuyerID, fmt.Sprintf("Escrow %s completed, tokens released", tx.ID))
	s.notify(ctx, tx.SellerID, fmt.Sprintf("Escrow %s completed", tx.ID))
	if err := s.publisher.Publish(ctx, events.Event{Type: events.TypeP2PCompleted, Payload: map[string]any{
		"p2p_transaction_id": tx.ID,
		"order_id":           tx.OrderID,
		"hash":               record.Hash,
		"amount":             tx.Amount.String(),
	}}); err != nil {
		s.log.WithError(err).Warn("event publish failed")
	}

	s.log.WithField("p2p_transaction_id", tx.ID).
		WithField("hash", record.Hash).
		Info("escrow completed")
	return updated, nil
}

// Cancel abandons a pending escrow transaction. Either party may cancel
// before payment is claimed.
func (s *Service) Cancel(ctx context.Context, txID, actorID string) (p2p.Transaction, error) {
	tx, err := s.store.GetP2PTransaction(ctx, txID)
	if err != nil {
		return p2p.Transaction{}, err
	}
	if tx.BuyerID != actorID && tx.SellerID != actorID {
		return p2p.Transaction{}, p2p.ErrForbidden
	}
	updated, err := s.transition(ctx, tx, p2p.StatusCancelled)
	if err != nil {
		return p2p.Transaction{}, err
	}
	s.notifyCounterparty(ctx, tx, actorID, fmt.Sprintf("Escrow %s was cancelled", tx.ID))
	return updated, nil
}

// Dispute freezes a non-terminal escrow transaction for manual review.
// Either party may raise it.
func (s *Service) Dispute(ctx context.Context, txID, actorID string) (p2p.Transaction, error) {
	tx, err := s.store.GetP2PTransaction(ctx, txID)
	if err != nil {
		return p2p.Transaction{}, err
	}
	if tx.BuyerID != actorID && tx.SellerID != actorID {
		return p2p.Transaction{}, p2p.ErrForbidden
	}
	updated, err := s.transition(ctx, tx, p2p.StatusDisputed)
	if err != nil {
		return p2p.Transaction{}, err
	}
	s.notifyCounterparty(ctx, tx, actorID, fmt.Sprintf("Escrow %s was disputed", tx.ID))
	s.log.WithField("p2p_transaction_id", tx.ID).Warn("escrow disputed")
	return updated, nil
}

func (s *Service) transition(ctx context.Context, tx p2p.Transaction, next string) (p2p.Transaction, error) {
	if !tx.CanTransition(next) {
		return p2p.Transaction{}, fmt.Errorf("%s to %s: %w", tx.Status, next, p2p.ErrInvalidTransition)
	}
	tx.Status = next
	return s.store.UpdateP2PTransaction(ctx, tx)
}

// checkSellerBalance is advisory: it rejects offers the seller plainly cannot
// cover right now but reserves nothing. The conditional debit at completion
// remains the authority.
func (s *Service) checkSellerBalance(ctx context.Context, sellerID, tokenID string, amount decimal.Decimal) error {
	w, err := s.primaryWallet(ctx, sellerID)
	if err != nil {
		return fmt.Errorf("seller wallet: %w", err)
	}
	h, err := s.wallets.GetHolding(ctx, w.ID, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return ledger.ErrInsufficientBalance
	}
	if err != nil {
		return err
	}
	if h.Amount.LessThan(amount) {
		return ledger.ErrInsufficientBalance
	}
	return nil
}

func (s *Service) primaryWallet(ctx context.Context, userID string) (wallet.Wallet, error) {
	ws, err := s.wallets.ListWalletsByUser(ctx, userID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if len(ws) == 0 {
		return wallet.Wallet{}, fmt.Errorf("user %s has no wallet: %w", userID, storage.ErrNotFound)
	}
	return ws[0], nil
}

func (s *Service) notify(ctx context.Context, userID, message string) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.CreateNotification(ctx, notification.Notification{
		UserID:  userID,
		Type:    notification.TypeP2P,
		Message: message,
	}); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("notification failed")
	}
}

func (s *Service) notifyCounterparty(ctx context.Context, tx p2p.Transaction, actorID, message string) {
	other := tx.BuyerID
	if actorID == tx.BuyerID {
		other = tx.SellerID
	}
	s.notify(ctx, other, message)
}
