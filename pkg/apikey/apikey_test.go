package apikey

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
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

func TestLookup_MissReturnsErrInvalidKey(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys" WHERE (key = $1 AND active = $2) AND "api_keys"."deleted_at" IS NULL`)).
		WithArgs("bad-key", true, 1).
		WillReturnError(gorm.ErrRecordNotFound)

	svc := NewService(db)
	_, err := svc.Lookup(context.Background(), "bad-key")
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLookup_HitStampsUsage(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "key", "secret", "user_id", "session_id", "active", "usage_count"}).
		AddRow(1, "good-key", "secret", 42, "session-1", true, 3)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys" WHERE (key = $1 AND active = $2) AND "api_keys"."deleted_at" IS NULL`)).
		WithArgs("good-key", true, 1).
		WillReturnRows(rows)

	mock.ExpectExec(`UPDATE "api_keys" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := NewService(db)
	key, err := svc.Lookup(context.Background(), "good-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.UserID != 42 || key.SessionID != "session-1" {
		t.Fatalf("unexpected key contents: %+v", key)
	}
}

func TestGenerateSecret_ProducesDistinctValues(t *testing.T) {
	a, err := generateSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := generateSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatal("expected two independently generated secrets to differ")
	}
	if len(a) == 0 {
		t.Fatal("expected a non-empty secret")
	}
}
