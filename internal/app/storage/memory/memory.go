// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/block"
	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/notification"
	"github.com/blockscope/explorer/internal/app/domain/p2p"
	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/storage"
)

// Store is an in-memory implementation of every storage interface. A single
// mutex serializes balance mutations, so the non-negative holding invariant
// holds under concurrent access just as the conditional updates guarantee it
// in Postgres.
type Store struct {
	mu sync.RWMutex

	users            map[string]user.User
	usersByEmail     map[string]string
	verifications    map[string]user.EmailVerification
	wallets          map[string]wallet.Wallet
	walletsByAddress map[string]string
	tokens           map[string]token.Token
	tokensBySymbol   map[string]string
	holdings         map[string]wallet.Holding
	blocks           map[string]block.Block
	blocksByHeight   map[int64]string
	validators       map[string]block.Validator
	transactions     []ledger.Transaction
	txByHash         map[string]int
	orders           map[string]p2p.Order
	p2pTransactions  map[string]p2p.Transaction
	notifications    map[string]notification.Notification
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)
var _ storage.BlockStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.P2PStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.MarketStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:            make(map[string]user.User),
		usersByEmail:     make(map[string]string),
		verifications:    make(map[string]user.EmailVerification),
		wallets:          make(map[string]wallet.Wallet),
		walletsByAddress: make(map[string]string),
		tokens:           make(map[string]token.Token),
		tokensBySymbol:   make(map[string]string),
		holdings:         make(map[string]wallet.Holding),
		blocks:           make(map[string]block.Block),
		blocksByHeight:   make(map[int64]string),
		validators:       make(map[string]block.Validator),
		txByHash:         make(map[string]int),
		orders:           make(map[string]p2p.Order),
		p2pTransactions:  make(map[string]p2p.Transaction),
		notifications:    make(map[string]notification.Notification),
	}
}

func holdingKey(walletID, tokenID string) string {
	return walletID + "|" + tokenID
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, exists := s.usersByEmail[email]; exists {
		return user.User{}, fmt.Errorf("user %s: %w", email, storage.ErrConflict)
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}

	u.Email = original.Email
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) CreateEmailVerification(_ context.Context, v user.EmailVerification) (user.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.Email = strings.ToLower(strings.TrimSpace(v.Email))
	v.CreatedAt = time.Now().UTC()
	s.verifications[v.ID] = v
	return v, nil
}

func (s *Store) GetEmailVerification(_ context.Context, email, code string) (user.EmailVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, v := range s.verifications {
		if v.Email == email && v.Code == code {
			return v, nil
		}
	}
	return user.EmailVerification{}, fmt.Errorf("verification for %s: %w", email, storage.ErrNotFound)
}

func (s *Store) DeleteEmailVerifications(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range s.verifications {
		if v.UserID == userID {
			delete(s.verifications, id)
		}
	}
	return nil
}

// WalletStore implementation --------------------------------------------------

func (s *Store) CreateWallet(_ context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Address == "" {
		w.Address = wallet.NewAddress()
	}
	if _, exists := s.walletsByAddress[w.Address]; exists {
		return wallet.Wallet{}, fmt.Errorf("wallet %s: %w", w.Address, storage.ErrConflict)
	}
	w.CreatedAt = time.Now().UTC()

	s.wallets[w.ID] = w
	s.walletsByAddress[w.Address] = w.ID
	return w, nil
}

func (s *Store) GetWallet(_ context.Context, id string) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[id]
	if !ok {
		return wallet.Wallet{}, fmt.Errorf("wallet %s: %w", id, storage.ErrNotFound)
	}
	return w, nil
}

func (s *Store) GetWalletByAddress(_ context.Context, address string) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.walletsByAddress[address]
	if !ok {
		return wallet.Wallet{}, fmt.Errorf("wallet %s: %w", address, storage.ErrNotFound)
	}
	return s.wallets[id], nil
}

func (s *Store) ListWalletsByUser(_ context.Context, userID string) ([]wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []wallet.Wallet
	for _, w := range s.wallets {
		if w.UserID == userID {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) GetHolding(_ context.Context, walletID, tokenID string) (wallet.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey(walletID, tokenID)]
	if !ok {
		return wallet.Holding{}, fmt.Errorf("holding %s/%s: %w", walletID, tokenID, storage.ErrNotFound)
	}
	return h, nil
}

func (s *Store) ListHoldings(_ context.Context, walletID string) ([]wallet.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []wallet.Holding
	for _, h := range s.holdings {
		if h.WalletID == walletID {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TokenID < result[j].TokenID })
	return result, nil
}

// TokenStore implementation ---------------------------------------------------

func (s *Store) CreateToken(_ context.Context, t token.Token) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
	if _, exists := s.tokensBySymbol[symbol]; exists {
		return token.Token{}, fmt.Errorf("token %s: %w", symbol, storage.ErrConflict)
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Symbol = symbol
	t.CreatedAt = now
	t.UpdatedAt = now

	s.tokens[t.ID] = t
	s.tokensBySymbol[symbol] = t.ID
	return t, nil
}

func (s *Store) GetToken(_ context.Context, id string) (token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[id]
	if !ok {
		return token.Token{}, fmt.Errorf("token %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) GetTokenBySymbol(_ context.Context, symbol string) (token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokensBySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return token.Token{}, fmt.Errorf("token %s: %w", symbol, storage.ErrNotFound)
	}
	return s.tokens[id], nil
}

func (s *Store) ListTokens(_ context.Context) ([]token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]token.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (s *Store) UpdateTokenPrice(_ context.Context, id string, price decimal.Decimal) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return token.Token{}, fmt.Errorf("token %s: %w", id, storage.ErrNotFound)
	}
	t.PriceUSD = price
	t.UpdatedAt = time.Now().UTC()
	s.tokens[id] = t
	return t, nil
}

// BlockStore implementation ---------------------------------------------------

func (s *Store) CreateBlock(_ context.Context, b block.Block) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Hash == "" {
		b.Hash = block.NewHash()
	}
	if b.Height == 0 {
		var max int64
		for h := range s.blocksByHeight {
			if h > max {
				max = h
			}
		}
		b.Height = max + 1
	}
	if _, exists := s.blocksByHeight[b.Height]; exists {
		return block.Block{}, fmt.Errorf("block height %d: %w", b.Height, storage.ErrConflict)
	}
	b.CreatedAt = time.Now().UTC()

	s.blocks[b.ID] = b
	s.blocksByHeight[b.Height] = b.ID

	if b.ProposerID != "" {
		if v, ok := s.validators[b.ProposerID]; ok {
			v.BlocksProduced++
			v.UpdatedAt = b.CreatedAt
			s.validators[b.ProposerID] = v
		}
	}
	return b, nil
}

func (s *Store) GetBlockByHeight(_ context.Context, height int64) (block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.blocksByHeight[height]
	if !ok {
		return block.Block{}, fmt.Errorf("block %d: %w", height, storage.ErrNotFound)
	}
	return s.blocks[id], nil
}

func (s *Store) GetBlockByHash(_ context.Context, hash string) (block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.blocks {
		if b.Hash == hash {
			return b, nil
		}
	}
	return block.Block{}, fmt.Errorf("block %s: %w", hash, storage.ErrNotFound)
}

func (s *Store) ListBlocks(_ context.Context, limit, offset int) ([]block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]block.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Height > all[j].Height })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) LatestBlock(_ context.Context) (block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest block.Block
		found  bool
	)
	for _, b := range s.blocks {
		if !found || b.Height > latest.Height {
			latest = b
			found = true
		}
	}
	if !found {
		return block.Block{}, fmt.Errorf("latest block: %w", storage.ErrNotFound)
	}
	return latest, nil
}

func (s *Store) CreateValidator(_ context.Context, v block.Validator) (block.Validator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = block.ValidatorActive
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	s.validators[v.ID] = v
	return v, nil
}

func (s *Store) GetValidator(_ context.Context, id string) (block.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.validators[id]
	if !ok {
		return block.Validator{}, fmt.Errorf("validator %s: %w", id, storage.ErrNotFound)
	}
	return v, nil
}

func (s *Store) ListValidators(_ context.Context) ([]block.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]block.Validator, 0, len(s.validators))
	for _, v := range s.validators {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateValidator(_ context.Context, v block.Validator) (block.Validator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.validators[v.ID]
	if !ok {
		return block.Validator{}, fmt.Errorf("validator %s: %w", v.ID, storage.ErrNotFound)
	}
	v.CreatedAt = original.CreatedAt
	v.BlocksProduced = original.BlocksProduced
	v.UpdatedAt = time.Now().UTC()
	s.validators[v.ID] = v
	return v, nil
}

// LedgerStore implementation --------------------------------------------------

// debitLocked applies a conditional debit. Callers hold the write lock. When
// deleteOnZero is set a holding debited to exactly zero is removed.
func (s *Store) debitLocked(walletID, tokenID string, amount decimal.Decimal, deleteOnZero bool) error {
	key := holdingKey(walletID, tokenID)
	h, ok := s.holdings[key]
	if !ok || h.Amount.LessThan(amount) {
		return ledger.ErrInsufficientBalance
	}
	h.Amount = h.Amount.Sub(amount)
	h.UpdatedAt = time.Now().UTC()
	if deleteOnZero && h.Amount.IsZero() {
		delete(s.holdings, key)
		return nil
	}
	s.holdings[key] = h
	return nil
}

// creditLocked applies a credit, creating the holding row on first credit.
func (s *Store) creditLocked(walletID, tokenID string, amount decimal.Decimal) {
	key := holdingKey(walletID, tokenID)
	h, ok := s.holdings[key]
	if !ok {
		h = wallet.Holding{WalletID: walletID, TokenID: tokenID, Amount: decimal.Zero}
	}
	h.Amount = h.Amount.Add(amount)
	h.UpdatedAt = time.Now().UTC()
	s.holdings[key] = h
}

func (s *Store) appendTransactionLocked(tx ledger.Transaction) ledger.Transaction {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Hash == "" {
		tx.Hash = ledger.NewHash()
	}
	tx.CreatedAt = time.Now().UTC()
	s.txByHash[tx.Hash] = len(s.transactions)
	s.transactions = append(s.transactions, tx)
	return tx
}

func (s *Store) Transfer(_ context.Context, p storage.TransferParams) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debitLocked(p.FromWalletID, p.TokenID, p.Amount, false); err != nil {
		return ledger.Transaction{}, err
	}
	s.creditLocked(p.ToWalletID, p.TokenID, p.Amount)

	tx := s.appendTransactionLocked(ledger.Transaction{
		FromWalletID: p.FromWalletID,
		ToWalletID:   p.ToWalletID,
		TokenID:      p.TokenID,
		Amount:       p.Amount,
		Fee:          p.Fee,
		Method:       ledger.MethodTransfer,
		Status:       ledger.StatusConfirmed,
	})
	return tx, nil
}

func (s *Store) Convert(_ context.Context, p storage.ConvertParams) (ledger.Transaction, ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debitLocked(p.WalletID, p.FromTokenID, p.Amount, true); err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	s.creditLocked(p.WalletID, p.ToTokenID, p.FinalOutput)

	reference := uuid.NewString()
	swapOut := s.appendTransactionLocked(ledger.Transaction{
		FromWalletID: p.WalletID,
		TokenID:      p.FromTokenID,
		Amount:       p.Amount.Neg(),
		Fee:          p.Fee,
		Method:       ledger.MethodSwapOut,
		Status:       ledger.StatusConfirmed,
		Reference:    reference,
	})
	swapIn := s.appendTransactionLocked(ledger.Transaction{
		ToWalletID: p.WalletID,
		TokenID:    p.ToTokenID,
		Amount:     p.FinalOutput,
		Fee:        decimal.Zero,
		Method:     ledger.MethodSwapIn,
		Status:     ledger.StatusConfirmed,
		Reference:  reference,
	})
	return swapOut, swapIn, nil
}

func (s *Store) SettleP2P(_ context.Context, p storage.SettleP2PParams) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debitLocked(p.FromWalletID, p.TokenID, p.Amount, false); err != nil {
		return ledger.Transaction{}, err
	}
	s.creditLocked(p.ToWalletID, p.TokenID, p.Amount)

	tx := s.appendTransactionLocked(ledger.Transaction{
		FromWalletID: p.FromWalletID,
		ToWalletID:   p.ToWalletID,
		TokenID:      p.TokenID,
		Amount:       p.Amount,
		Fee:          p.Fee,
		Method:       ledger.MethodP2P,
		Status:       ledger.StatusConfirmed,
		Reference:    p.P2PTransactionID,
		BlockID:      p.BlockID,
	})
	return tx, nil
}

func (s *Store) Deposit(_ context.Context, walletID, tokenID string, amount decimal.Decimal) (wallet.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creditLocked(walletID, tokenID, amount)
	s.appendTransactionLocked(ledger.Transaction{
		ToWalletID: walletID,
		TokenID:    tokenID,
		Amount:     amount,
		Fee:        decimal.Zero,
		Method:     ledger.MethodDeposit,
		Status:     ledger.StatusConfirmed,
	})
	return s.holdings[holdingKey(walletID, tokenID)], nil
}

func (s *Store) GetTransactionByHash(_ context.Context, hash string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.txByHash[hash]
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", hash, storage.ErrNotFound)
	}
	return s.transactions[idx], nil
}

func (s *Store) ListTransactions(_ context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if f.WalletID != "" && tx.FromWalletID != f.WalletID && tx.ToWalletID != f.WalletID {
			continue
		}
		if f.TokenID != "" && tx.TokenID != f.TokenID {
			continue
		}
		if f.Method != "" && tx.Method != f.Method {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		result = append(result, tx)
	}

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *Store) CountTransfersSince(_ context.Context, tokenID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, tx := range s.transactions {
		if tx.TokenID != tokenID || tx.CreatedAt.Before(since) {
			continue
		}
		switch tx.Method {
		case ledger.MethodTransfer, ledger.MethodP2P:
			total = total.Add(tx.Amount.Abs())
		}
	}
	return total, nil
}

// P2PStore implementation -----------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, o p2p.Order) (p2p.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (p2p.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return p2p.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	return o, nil
}

func (s *Store) ListOrders(_ context.Context, f p2p.OrderFilter) ([]p2p.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []p2p.Order
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Side != "" && o.Side != f.Side {
			continue
		}
		if f.TokenID != "" && o.TokenID != f.TokenID {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) UpdateOrder(_ context.Context, o p2p.Order) (p2p.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.orders[o.ID]
	if !ok {
		return p2p.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}
	o.UserID = original.UserID
	o.Total = original.Total
	o.CreatedAt = original.CreatedAt
	o.UpdatedAt = time.Now().UTC()
	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) CreateP2PTransaction(_ context.Context, tx p2p.Transaction) (p2p.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.p2pTransactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetP2PTransaction(_ context.Context, id string) (p2p.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.p2pTransactions[id]
	if !ok {
		return p2p.Transaction{}, fmt.Errorf("p2p transaction %s: %w", id, storage.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) UpdateP2PTransaction(_ context.Context, tx p2p.Transaction) (p2p.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.p2pTransactions[tx.ID]
	if !ok {
		return p2p.Transaction{}, fmt.Errorf("p2p transaction %s: %w", tx.ID, storage.ErrNotFound)
	}
	// Amount and price are frozen at creation.
	tx.BuyerID = original.BuyerID
	tx.SellerID = original.SellerID
	tx.TokenID = original.TokenID
	tx.Amount = original.Amount
	tx.Price = original.Price
	tx.CreatedAt = original.CreatedAt
	tx.UpdatedAt = time.Now().UTC()
	s.p2pTransactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) ListP2PTransactionsByUser(_ context.Context, userID string) ([]p2p.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []p2p.Transaction
	for _, tx := range s.p2pTransactions {
		if tx.BuyerID == userID || tx.SellerID == userID {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()
	s.notifications[n.ID] = n
	return n, nil
}

func (s *Store) ListNotifications(_ context.Context, userID string) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notification.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, storage.ErrNotFound)
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

// MarketStore implementation --------------------------------------------------

func (s *Store) MarketOverview(_ context.Context) ([]storage.TokenMarketStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := time.Now().UTC().Add(-24 * time.Hour)
	stats := make(map[string]*storage.TokenMarketStats, len(s.tokens))
	for id, t := range s.tokens {
		stats[id] = &storage.TokenMarketStats{
			TokenID:   id,
			Symbol:    t.Symbol,
			PriceUSD:  t.PriceUSD,
			TotalHeld: decimal.Zero,
			Volume24h: decimal.Zero,
		}
	}
	for _, h := range s.holdings {
		if st, ok := stats[h.TokenID]; ok && h.Amount.IsPositive() {
			st.Holders++
			st.TotalHeld = st.TotalHeld.Add(h.Amount)
		}
	}
	for _, tx := range s.transactions {
		st, ok := stats[tx.TokenID]
		if !ok || tx.CreatedAt.Before(since) {
			continue
		}
		switch tx.Method {
		case ledger.MethodTransfer, ledger.MethodP2P:
			st.Volume24h = st.Volume24h.Add(tx.Amount.Abs())
		}
	}

	result := make([]storage.TokenMarketStats, 0, len(stats))
	for _, st := range stats {
		result = append(result, *st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}
