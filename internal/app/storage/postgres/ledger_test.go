package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func TestTransferCommitsDebitCreditAndAuditRow(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	amount := decimal.RequireFromString("25")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE token_holdings").
		WithArgs("w-from", "tok-1", amount, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO token_holdings").
		WithArgs("w-to", "tok-1", amount, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := store.Transfer(context.Background(), storage.TransferParams{
		FromWalletID: "w-from",
		ToWalletID:   "w-to",
		TokenID:      "tok-1",
		Amount:       amount,
		Fee:          ledger.TransferFee(amount),
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if record.Method != ledger.MethodTransfer || record.Status != ledger.StatusConfirmed {
		t.Fatalf("unexpected audit row: %+v", record)
	}
	if record.Hash == "" || record.ID == "" {
		t.Fatalf("expected generated id and hash, got %+v", record)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransferInsufficientBalanceRollsBack(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	amount := decimal.RequireFromString("100")

	mock.ExpectBegin()
	// Guarded update touches no rows: balance below the requested amount.
	mock.ExpectExec("UPDATE token_holdings").
		WithArgs("w-from", "tok-1", amount, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.Transfer(context.Background(), storage.TransferParams{
		FromWalletID: "w-from",
		ToWalletID:   "w-to",
		TokenID:      "tok-1",
		Amount:       amount,
		Fee:          ledger.TransferFee(amount),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConvertWritesPairedRowsAndPrunesZeroHolding(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	amount := decimal.RequireFromString("10")
	finalOutput := decimal.RequireFromString("4.986")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE token_holdings").
		WithArgs("w-1", "tok-from", amount, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM token_holdings").
		WithArgs("w-1", "tok-from").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO token_holdings").
		WithArgs("w-1", "tok-to", finalOutput, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	swapOut, swapIn, err := store.Convert(context.Background(), storage.ConvertParams{
		WalletID:    "w-1",
		FromTokenID: "tok-from",
		ToTokenID:   "tok-to",
		Amount:      amount,
		FinalOutput: finalOutput,
		Fee:         decimal.RequireFromString("0.015"),
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !swapOut.Amount.Equal(amount.Neg()) {
		t.Fatalf("swap_out amount = %s, want %s", swapOut.Amount, amount.Neg())
	}
	if !swapIn.Amount.Equal(finalOutput) {
		t.Fatalf("swap_in amount = %s, want %s", swapIn.Amount, finalOutput)
	}
	if swapOut.Reference == "" || swapOut.Reference != swapIn.Reference {
		t.Fatalf("legs must share a reference: %q vs %q", swapOut.Reference, swapIn.Reference)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSettleP2PInsufficientSellerBalanceRollsBack(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	amount := decimal.RequireFromString("5")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE token_holdings").
		WithArgs("w-seller", "tok-1", amount, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.SettleP2P(context.Background(), storage.SettleP2PParams{
		P2PTransactionID: "p2p-1",
		FromWalletID:     "w-seller",
		ToWalletID:       "w-buyer",
		TokenID:          "tok-1",
		Amount:           amount,
		Fee:              ledger.TransferFee(amount),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDepositUpsertsHoldingAndRecordsAuditRow(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	amount := decimal.RequireFromString("50")
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO token_holdings").
		WithArgs("w-1", "tok-1", amount, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT wallet_id, token_id, amount, updated_at").
		WithArgs("w-1", "tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "token_id", "amount", "updated_at"}).
			AddRow("w-1", "tok-1", amount.String(), now))
	mock.ExpectCommit()

	holding, err := store.Deposit(context.Background(), "w-1", "tok-1", amount)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !holding.Amount.Equal(amount) {
		t.Fatalf("holding amount = %s, want %s", holding.Amount, amount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetTransactionByHashNotFound(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("SELECT id, hash, from_wallet_id").
		WithArgs("0xdead").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetTransactionByHash(context.Background(), "0xdead")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
