package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/wallet"
	"github.com/blockscope/explorer/internal/app/storage"
)

// debitTx decrements a holding inside tx, guarded by the balance condition.
// Zero rows affected covers both a missing holding row and a short balance;
// the two collapse into one ledger.ErrInsufficientBalance, which the caller
// surfaces after rolling back.
func debitTx(ctx context.Context, tx *sql.Tx, walletID, tokenID string, amount decimal.Decimal, deleteOnZero bool) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE token_holdings
		SET amount = amount - $3, updated_at = $4
		WHERE wallet_id = $1 AND token_id = $2 AND amount >= $3
	`, walletID, tokenID, amount, time.Now().UTC())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("debit %s/%s: %w", walletID, tokenID, ledger.ErrInsufficientBalance)
	}
	if deleteOnZero {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM token_holdings
			WHERE wallet_id = $1 AND token_id = $2 AND amount = 0
		`, walletID, tokenID)
	}
	return err
}

// creditTx increments a holding inside tx, creating the row on first credit.
func creditTx(ctx context.Context, tx *sql.Tx, walletID, tokenID string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO token_holdings (wallet_id, token_id, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_id, token_id)
		DO UPDATE SET amount = token_holdings.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at
	`, walletID, tokenID, amount, time.Now().UTC())
	return err
}

func insertTransactionTx(ctx context.Context, tx *sql.Tx, t ledger.Transaction) (ledger.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Hash == "" {
		t.Hash = ledger.NewHash()
	}
	t.CreatedAt = time.Now().UTC()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, hash, from_wallet_id, to_wallet_id, token_id, amount, fee, method, status, reference, block_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.Hash, toNullString(t.FromWalletID), toNullString(t.ToWalletID), t.TokenID,
		t.Amount, t.Fee, t.Method, t.Status, toNullString(t.Reference), toNullString(t.BlockID), t.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

// Transfer moves amount between two wallets and records one confirmed audit
// row. The fee is recorded, not moved.
func (s *Store) Transfer(ctx context.Context, p storage.TransferParams) (ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer tx.Rollback()

	if err := debitTx(ctx, tx, p.FromWalletID, p.TokenID, p.Amount, false); err != nil {
		return ledger.Transaction{}, err
	}
	if err := creditTx(ctx, tx, p.ToWalletID, p.TokenID, p.Amount); err != nil {
		return ledger.Transaction{}, err
	}

	record, err := insertTransactionTx(ctx, tx, ledger.Transaction{
		FromWalletID: p.FromWalletID,
		ToWalletID:   p.ToWalletID,
		TokenID:      p.TokenID,
		Amount:       p.Amount,
		Fee:          p.Fee,
		Method:       ledger.MethodTransfer,
		Status:       ledger.StatusConfirmed,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return record, nil
}

// Convert swaps between two tokens in the same wallet. The source holding row
// is removed when the debit lands exactly on zero. Both audit rows share a
// generated reference.
func (s *Store) Convert(ctx context.Context, p storage.ConvertParams) (ledger.Transaction, ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	defer tx.Rollback()

	if err := debitTx(ctx, tx, p.WalletID, p.FromTokenID, p.Amount, true); err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	if err := creditTx(ctx, tx, p.WalletID, p.ToTokenID, p.FinalOutput); err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}

	reference := uuid.NewString()
	swapOut, err := insertTransactionTx(ctx, tx, ledger.Transaction{
		FromWalletID: p.WalletID,
		TokenID:      p.FromTokenID,
		Amount:       p.Amount.Neg(),
		Fee:          p.Fee,
		Method:       ledger.MethodSwapOut,
		Status:       ledger.StatusConfirmed,
		Reference:    reference,
	})
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	swapIn, err := insertTransactionTx(ctx, tx, ledger.Transaction{
		ToWalletID: p.WalletID,
		TokenID:    p.ToTokenID,
		Amount:     p.FinalOutput,
		Fee:        decimal.Zero,
		Method:     ledger.MethodSwapIn,
		Status:     ledger.StatusConfirmed,
		Reference:  reference,
	})
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	return swapOut, swapIn, nil
}

// SettleP2P moves escrowed value from seller to buyer when an escrow
// transaction completes. The audit row references the escrow record and the
// latest block.
func (s *Store) SettleP2P(ctx context.Context, p storage.SettleP2PParams) (ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer tx.Rollback()

	if err := debitTx(ctx, tx, p.FromWalletID, p.TokenID, p.Amount, false); err != nil {
		return ledger.Transaction{}, err
	}
	if err := creditTx(ctx, tx, p.ToWalletID, p.TokenID, p.Amount); err != nil {
		return ledger.Transaction{}, err
	}

	record, err := insertTransactionTx(ctx, tx, ledger.Transaction{
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
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return record, nil
}

// Deposit credits a wallet from nowhere and records a deposit audit row.
func (s *Store) Deposit(ctx context.Context, walletID, tokenID string, amount decimal.Decimal) (wallet.Holding, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wallet.Holding{}, err
	}
	defer tx.Rollback()

	if err := creditTx(ctx, tx, walletID, tokenID, amount); err != nil {
		return wallet.Holding{}, err
	}
	if _, err := insertTransactionTx(ctx, tx, ledger.Transaction{
		ToWalletID: walletID,
		TokenID:    tokenID,
		Amount:     amount,
		Fee:        decimal.Zero,
		Method:     ledger.MethodDeposit,
		Status:     ledger.StatusConfirmed,
	}); err != nil {
		return wallet.Holding{}, err
	}

	var h wallet.Holding
	err = tx.QueryRowContext(ctx, `
		SELECT wallet_id, token_id, amount, updated_at
		FROM token_holdings WHERE wallet_id = $1 AND token_id = $2
	`, walletID, tokenID).Scan(&h.WalletID, &h.TokenID, &h.Amount, &h.UpdatedAt)
	if err != nil {
		return wallet.Holding{}, err
	}
	if err := tx.Commit(); err != nil {
		return wallet.Holding{}, err
	}
	return h, nil
}

func scanLedgerTransaction(row interface{ Scan(...any) error }) (ledger.Transaction, error) {
	var (
		t         ledger.Transaction
		from, to  sql.NullString
		reference sql.NullString
		blockID   sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Hash, &from, &to, &t.TokenID, &t.Amount, &t.Fee, &t.Method, &t.Status, &reference, &blockID, &t.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	if from.Valid {
		t.FromWalletID = from.String
	}
	if to.Valid {
		t.ToWalletID = to.String
	}
	if reference.Valid {
		t.Reference = reference.String
	}
	if blockID.Valid {
		t.BlockID = blockID.String
	}
	return t, nil
}

func (s *Store) GetTransactionByHash(ctx context.Context, hash string) (ledger.Transaction, error) {
	t, err := scanLedgerTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, hash, from_wallet_id, to_wallet_id, token_id, amount, fee, method, status, reference, block_id, created_at
		FROM transactions WHERE hash = $1
	`, hash))
	if err != nil {
		return ledger.Transaction{}, wrapErr(err, "transaction", hash)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, from_wallet_id, to_wallet_id, token_id, amount, fee, method, status, reference, block_id, created_at
		FROM transactions
		WHERE ($1 = '' OR from_wallet_id = $1 OR to_wallet_id = $1)
		  AND ($2 = '' OR token_id = $2)
		  AND ($3 = '' OR method = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`, f.WalletID, f.TokenID, f.Method, f.Status, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		t, err := scanLedgerTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// CountTransfersSince sums the absolute moved amounts for a token across
// transfer and p2p rows newer than since.
func (s *Store) CountTransfersSince(ctx context.Context, tokenID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(ABS(amount)), 0) FROM transactions
		WHERE token_id = $1 AND method IN ('transfer', 'p2p') AND created_at >= $2
	`, tokenID, since).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
