// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/block"
	"github.com/blockscope/explorer/internal/app/domain/notification"
	"github.com/blockscope/explorer/internal/app/domain/p2p"
	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/domain/user"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)
var _ storage.BlockStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.P2PStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.MarketStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

// wrapErr translates driver errors into the storage sentinels.
func wrapErr(err error, what, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, key, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s %s: %w", what, key, storage.ErrConflict)
	}
	return err
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Username, u.Email, u.Password, u.Verified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, wrapErr(err, "user", u.Email)
	}
	return u, nil
}

func scanUser(row interface{ Scan(...any) error }) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password, verified, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
	if err != nil {
		return user.User{}, wrapErr(err, "user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password, verified, created_at, updated_at
		FROM users WHERE email = $1
	`, email))
	if err != nil {
		return user.User{}, wrapErr(err, "user", email)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = $2, password = $3, verified = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.Username, u.Password, u.Verified, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, password, verified, created_at, updated_at
		FROM users ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) CreateEmailVerification(ctx context.Context, v user.EmailVerification) (user.EmailVerification, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.Email = strings.ToLower(strings.TrimSpace(v.Email))
	v.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_verifications (id, user_id, email, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.UserID, v.Email, v.Code, v.ExpiresAt, v.CreatedAt)
	if err != nil {
		return user.EmailVerification{}, err
	}
	return v, nil
}

func (s *Store) GetEmailVerification(ctx context.Context, email, code string) (user.EmailVerification, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var v user.EmailVerification
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, code, expires_at, created_at
		FROM email_verifications
		WHERE email = $1 AND code = $2
		ORDER BY created_at DESC LIMIT 1
	`, email, code).Scan(&v.ID, &v.UserID, &v.Email, &v.Code, &v.ExpiresAt, &v.CreatedAt)
	if err != nil {
		return user.EmailVerification{}, wrapErr(err, "verification", email)
	}
	return v, nil
}

func (s *Store) DeleteEmailVerifications(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM email_verifications WHERE user_id = $1`, userID)
	return err
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) CreateWallet(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Address == "" {
		w.Address = wallet.NewAddress()
	}
	w.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, address, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.UserID, w.Address, w.Label, w.CreatedAt)
	if err != nil {
		return wallet.Wallet{}, wrapErr(err, "wallet", w.Address)
	}
	return w, nil
}

func (s *Store) GetWallet(ctx context.Context, id string) (wallet.Wallet, error) {
	var w wallet.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, address, label, created_at FROM wallets WHERE id = $1
	`, id).Scan(&w.ID, &w.UserID, &w.Address, &w.Label, &w.CreatedAt)
	if err != nil {
		return wallet.Wallet{}, wrapErr(err, "wallet", id)
	}
	return w, nil
}

func (s *Store) GetWalletByAddress(ctx context.Context, address string) (wallet.Wallet, error) {
	var w wallet.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, address, label, created_at FROM wallets WHERE address = $1
	`, address).Scan(&w.ID, &w.UserID, &w.Address, &w.Label, &w.CreatedAt)
	if err != nil {
		return wallet.Wallet{}, wrapErr(err, "wallet", address)
	}
	return w, nil
}

func (s *Store) ListWalletsByUser(ctx context.Context, userID string) ([]wallet.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, address, label, created_at
		FROM wallets WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.Wallet
	for rows.Next() {
		var w wallet.Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.Label, &w.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *Store) GetHolding(ctx context.Context, walletID, tokenID string) (wallet.Holding, error) {
	var h wallet.Holding
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet_id, token_id, amount, updated_at
		FROM token_holdings WHERE wallet_id = $1 AND token_id = $2
	`, walletID, tokenID).Scan(&h.WalletID, &h.TokenID, &h.Amount, &h.UpdatedAt)
	if err != nil {
		return wallet.Holding{}, wrapErr(err, "holding", walletID)
	}
	return h, nil
}

func (s *Store) ListHoldings(ctx context.Context, walletID string) ([]wallet.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet_id, token_id, amount, updated_at
		FROM token_holdings WHERE wallet_id = $1 ORDER BY token_id
	`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.Holding
	for rows.Next() {
		var h wallet.Holding
		if err := rows.Scan(&h.WalletID, &h.TokenID, &h.Amount, &h.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// --- TokenStore -------------------------------------------------------------

func (s *Store) CreateToken(ctx context.Context, t token.Token) (token.Token, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, symbol, name, price_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Symbol, t.Name, t.PriceUSD, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return token.Token{}, wrapErr(err, "token", t.Symbol)
	}
	return t, nil
}

func (s *Store) GetToken(ctx context.Context, id string) (token.Token, error) {
	var t token.Token
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, name, price_usd, created_at, updated_at FROM tokens WHERE id = $1
	`, id).Scan(&t.ID, &t.Symbol, &t.Name, &t.PriceUSD, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return token.Token{}, wrapErr(err, "token", id)
	}
	return t, nil
}

func (s *Store) GetTokenBySymbol(ctx context.Context, symbol string) (token.Token, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var t token.Token
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, name, price_usd, created_at, updated_at FROM tokens WHERE symbol = $1
	`, symbol).Scan(&t.ID, &t.Symbol, &t.Name, &t.PriceUSD, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return token.Token{}, wrapErr(err, "token", symbol)
	}
	return t, nil
}

func (s *Store) ListTokens(ctx context.Context) ([]token.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, name, price_usd, created_at, updated_at FROM tokens ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []token.Token
	for rows.Next() {
		var t token.Token
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Name, &t.PriceUSD, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) UpdateTokenPrice(ctx context.Context, id string, price decimal.Decimal) (token.Token, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens SET price_usd = $2, updated_at = $3 WHERE id = $1
	`, id, price, time.Now().UTC())
	if err != nil {
		return token.Token{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return token.Token{}, fmt.Errorf("token %s: %w", id, storage.ErrNotFound)
	}
	return s.GetToken(ctx, id)
}

// --- BlockStore -------------------------------------------------------------

func (s *Store) CreateBlock(ctx context.Context, b block.Block) (block.Block, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Hash == "" {
		b.Hash = block.NewHash()
	}
	b.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return block.Block{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if b.Height == 0 {
		if err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(height), 0) + 1 FROM blocks
		`).Scan(&b.Height); err != nil {
			return block.Block{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (id, height, hash, proposer_id, tx_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.Height, b.Hash, toNullString(b.ProposerID), b.TxCount, b.CreatedAt)
	if err != nil {
		return block.Block{}, wrapErr(err, "block", b.Hash)
	}

	if b.ProposerID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE validators SET blocks_produced = blocks_produced + 1, updated_at = $2
			WHERE id = $1
		`, b.ProposerID, b.CreatedAt)
		if err != nil {
			return block.Block{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return block.Block{}, err
	}
	return b, nil
}

func scanBlock(row interface{ Scan(...any) error }) (block.Block, error) {
	var (
		b        block.Block
		proposer sql.NullString
	)
	if err := row.Scan(&b.ID, &b.Height, &b.Hash, &proposer, &b.TxCount, &b.CreatedAt); err != nil {
		return block.Block{}, err
	}
	if proposer.Valid {
		b.ProposerID = proposer.String
	}
	return b, nil
}

func (s *Store) GetBlockByHeight(ctx context.Context, height int64) (block.Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, `
		SELECT id, height, hash, proposer_id, tx_count, created_at FROM blocks WHERE height = $1
	`, height))
	if err != nil {
		return block.Block{}, wrapErr(err, "block", fmt.Sprintf("%d", height))
	}
	return b, nil
}

func (s *Store) GetBlockByHash(ctx context.Context, hash string) (block.Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, `
		SELECT id, height, hash, proposer_id, tx_count, created_at FROM blocks WHERE hash = $1
	`, hash))
	if err != nil {
		return block.Block{}, wrapErr(err, "block", hash)
	}
	return b, nil
}

func (s *Store) ListBlocks(ctx context.Context, limit, offset int) ([]block.Block, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, height, hash, proposer_id, tx_count, created_at
		FROM blocks ORDER BY height DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []block.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *Store) LatestBlock(ctx context.Context) (block.Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, `
		SELECT id, height, hash, proposer_id, tx_count, created_at
		FROM blocks ORDER BY created_at DESC, height DESC LIMIT 1
	`))
	if err != nil {
		return block.Block{}, wrapErr(err, "block", "latest")
	}
	return b, nil
}

func (s *Store) CreateValidator(ctx context.Context, v block.Validator) (block.Validator, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = block.ValidatorActive
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validators (id, name, address, status, blocks_produced, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.Name, v.Address, v.Status, v.BlocksProduced, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return block.Validator{}, wrapErr(err, "validator", v.Address)
	}
	return v, nil
}

func (s *Store) GetValidator(ctx context.Context, id string) (block.Validator, error) {
	var v block.Validator
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, status, blocks_produced, created_at, updated_at
		FROM validators WHERE id = $1
	`, id).Scan(&v.ID, &v.Name, &v.Address, &v.Status, &v.BlocksProduced, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return block.Validator{}, wrapErr(err, "validator", id)
	}
	return v, nil
}

func (s *Store) ListValidators(ctx context.Context) ([]block.Validator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, status, blocks_produced, created_at, updated_at
		FROM validators ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []block.Validator
	for rows.Next() {
		var v block.Validator
		if err := rows.Scan(&v.ID, &v.Name, &v.Address, &v.Status, &v.BlocksProduced, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) UpdateValidator(ctx context.Context, v block.Validator) (block.Validator, error) {
	v.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE validators SET name = $2, status = $3, updated_at = $4 WHERE id = $1
	`, v.ID, v.Name, v.Status, v.UpdatedAt)
	if err != nil {
		return block.Validator{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return block.Validator{}, fmt.Errorf("validator %s: %w", v.ID, storage.ErrNotFound)
	}
	return s.GetValidator(ctx, v.ID)
}

// --- P2PStore ---------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, o p2p.Order) (p2p.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO p2p_orders (id, user_id, side, token_id, amount, price, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.UserID, o.Side, o.TokenID, o.Amount, o.Price, o.Total, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return p2p.Order{}, err
	}
	return o, nil
}

func scanOrder(row interface{ Scan(...any) error }) (p2p.Order, error) {
	var o p2p.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Side, &o.TokenID, &o.Amount, &o.Price, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) GetOrder(ctx context.Context, id string) (p2p.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, side, token_id, amount, price, total, status, created_at, updated_at
		FROM p2p_orders WHERE id = $1
	`, id))
	if err != nil {
		return p2p.Order{}, wrapErr(err, "order", id)
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f p2p.OrderFilter) ([]p2p.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, side, token_id, amount, price, total, status, created_at, updated_at
		FROM p2p_orders
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR side = $2)
		  AND ($3 = '' OR token_id = $3)
		  AND ($4 = '' OR user_id = $4)
		ORDER BY created_at DESC
	`, f.Status, f.Side, f.TokenID, f.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []p2p.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *Store) UpdateOrder(ctx context.Context, o p2p.Order) (p2p.Order, error) {
	o.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE p2p_orders SET status = $2, updated_at = $3 WHERE id = $1
	`, o.ID, o.Status, o.UpdatedAt)
	if err != nil {
		return p2p.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return p2p.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}
	return s.GetOrder(ctx, o.ID)
}

func (s *Store) CreateP2PTransaction(ctx context.Context, tx p2p.Transaction) (p2p.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO p2p_transactions (id, order_id, buyer_id, seller_id, token_id, amount, price, status, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tx.ID, toNullString(tx.OrderID), tx.BuyerID, tx.SellerID, tx.TokenID, tx.Amount, tx.Price, tx.Status, tx.CreatedAt, tx.UpdatedAt, toNullTime(tx.CompletedAt))
	if err != nil {
		return p2p.Transaction{}, err
	}
	return tx, nil
}

func scanP2PTransaction(row interface{ Scan(...any) error }) (p2p.Transaction, error) {
	var (
		tx          p2p.Transaction
		orderID     sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&tx.ID, &orderID, &tx.BuyerID, &tx.SellerID, &tx.TokenID, &tx.Amount, &tx.Price, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt, &completedAt); err != nil {
		return p2p.Transaction{}, err
	}
	if orderID.Valid {
		tx.OrderID = orderID.String
	}
	if completedAt.Valid {
		tx.CompletedAt = completedAt.Time.UTC()
	}
	return tx, nil
}

func (s *Store) GetP2PTransaction(ctx context.Context, id string) (p2p.Transaction, error) {
	tx, err := scanP2PTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, token_id, amount, price, status, created_at, updated_at, completed_at
		FROM p2p_transactions WHERE id = $1
	`, id))
	if err != nil {
		return p2p.Transaction{}, wrapErr(err, "p2p transaction", id)
	}
	return tx, nil
}

func (s *Store) UpdateP2PTransaction(ctx context.Context, tx p2p.Transaction) (p2p.Transaction, error) {
	tx.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE p2p_transactions SET status = $2, updated_at = $3, completed_at = $4 WHERE id = $1
	`, tx.ID, tx.Status, tx.UpdatedAt, toNullTime(tx.CompletedAt))
	if err != nil {
		return p2p.Transaction{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return p2p.Transaction{}, fmt.Errorf("p2p transaction %s: %w", tx.ID, storage.ErrNotFound)
	}
	return s.GetP2PTransaction(ctx, tx.ID)
}

func (s *Store) ListP2PTransactionsByUser(ctx context.Context, userID string) ([]p2p.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, token_id, amount, price, status, created_at, updated_at, completed_at
		FROM p2p_transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []p2p.Transaction
	for rows.Next() {
		tx, err := scanP2PTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// --- NotificationStore ------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.UserID, n.Type, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, message, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("notification %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- MarketStore ------------------------------------------------------------

func (s *Store) MarketOverview(ctx context.Context) ([]storage.TokenMarketStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.symbol, t.price_usd,
		       COUNT(h.wallet_id) FILTER (WHERE h.amount > 0),
		       COALESCE(SUM(h.amount), 0),
		       COALESCE((
		           SELECT SUM(ABS(tx.amount)) FROM transactions tx
		           WHERE tx.token_id = t.id
		             AND tx.method IN ('transfer', 'p2p')
		             AND tx.created_at >= NOW() - INTERVAL '24 hours'
		       ), 0)
		FROM tokens t
		LEFT JOIN token_holdings h ON h.token_id = t.id
		GROUP BY t.id, t.symbol, t.price_usd
		ORDER BY t.symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.TokenMarketStats
	for rows.Next() {
		var st storage.TokenMarketStats
		if err := rows.Scan(&st.TokenID, &st.Symbol, &st.PriceUSD, &st.Holders, &st.TotalHeld, &st.Volume24h); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
