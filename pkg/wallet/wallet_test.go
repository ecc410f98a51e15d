package wallet

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crm/pkg/entities"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm over sqlmock: %v", err)
	}
	return gdb, mock
}

func TestBalance_DefaultsWithoutMutation(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "wallets" WHERE user_id = $1`)).
		WithArgs(uint(7), 1).
		WillReturnError(gorm.ErrRecordNotFound)

	svc := NewService(db)
	balance, err := svc.Balance(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != DefaultInitialBalance {
		t.Fatalf("expected default balance %v, got %v", DefaultInitialBalance, balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBalance_ExistingWallet(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "user_id", "balance"}).AddRow(1, 7, 450.0)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "wallets" WHERE user_id = $1`)).
		WithArgs(uint(7), 1).
		WillReturnRows(rows)

	svc := NewService(db)
	balance, err := svc.Balance(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 450.0 {
		t.Fatalf("expected balance 450, got %v", balance)
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "user_id", "balance"}).AddRow(1, 7, 5.0)
	mock.ExpectQuery(`SELECT \* FROM "wallets" WHERE user_id = \$1.*FOR UPDATE`).
		WithArgs(uint(7), 1).
		WillReturnRows(rows)
	mock.ExpectRollback()

	svc := NewService(db)
	_, err := svc.Debit(context.Background(), 7, "sess-1", 10, "otp", "ref-1")
	if err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestReconcile_FindsOrphanDebit(t *testing.T) {
	db, mock := newMockDB(t)

	debitRows := sqlmock.NewRows([]string{"id", "user_id", "type", "reference_id", "amount"}).
		AddRow(1, 9, entities.WalletTxnDebit, "ref-orphan", 10.0).
		AddRow(2, 9, entities.WalletTxnDebit, "ref-refunded", 10.0)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "wallet_transactions" WHERE`)).
		WithArgs(uint(9), entities.WalletTxnDebit).
		WillReturnRows(debitRows)

	creditRows := sqlmock.NewRows([]string{"id", "user_id", "type", "reference_id", "amount"}).
		AddRow(3, 9, entities.WalletTxnCredit, "refund_ref-refunded", 10.0)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "wallet_transactions" WHERE`)).
		WithArgs(uint(9), entities.WalletTxnCredit, "refund_%").
		WillReturnRows(creditRows)

	svc := NewService(db)
	orphans, err := svc.Reconcile(context.Background(), 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("expected exactly one orphan debit, got %d", len(orphans))
	}
	if orphans[0].Transaction.ReferenceID != "ref-orphan" {
		t.Fatalf("expected orphan ref-orphan, got %s", orphans[0].Transaction.ReferenceID)
	}
}
