package subscription

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

func TestCheck_MessageQuotaExceeded(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "user_id", "tier", "messages_used", "numbers_used", "active"}).
		AddRow(1, 5, entities.TierBasic, int64(1199), int64(1), true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE user_id = $1 AND active = $2`)).
		WithArgs(uint(5), true, 1).
		WillReturnRows(rows)

	svc := NewService(db)
	result, err := svc.Check(context.Background(), 5, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected quota exceeded, got allowed")
	}
	if result.Reason != "message_quota_exceeded" {
		t.Fatalf("expected message_quota_exceeded, got %s", result.Reason)
	}
}

func TestCheck_PremiumUnlimited(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "user_id", "tier", "messages_used", "numbers_used", "active"}).
		AddRow(1, 5, entities.TierPremium, int64(999999), int64(999), true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE user_id = $1 AND active = $2`)).
		WithArgs(uint(5), true, 1).
		WillReturnRows(rows)

	svc := NewService(db)
	result, err := svc.Check(context.Background(), 5, 100, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected premium tier to always be allowed")
	}
}

func TestCheck_NoActiveSubscription(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE user_id = $1 AND active = $2`)).
		WithArgs(uint(5), true, 1).
		WillReturnError(gorm.ErrRecordNotFound)

	svc := NewService(db)
	result, err := svc.Check(context.Background(), 5, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected no-subscription request to be rejected")
	}
	if result.Reason != "no_active_subscription" {
		t.Fatalf("expected no_active_subscription reason, got %s", result.Reason)
	}
}

func TestSubscribe_UnknownTier(t *testing.T) {
	db, _ := newMockDB(t)
	svc := NewService(db)
	if _, err := svc.Subscribe(context.Background(), 5, entities.SubscriptionTier("gold")); err == nil {
		t.Fatal("expected an error for an unknown tier")
	}
}

// TestSubscribe_TierChangeUpdatesInPlace guards against the uniqueIndex
// on Subscription.UserID being violated by a second insert: switching
// tiers for a user that already has a row must UPDATE it, never INSERT.
func TestSubscribe_TierChangeUpdatesInPlace(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "tier", "messages_used", "numbers_used", "active"}).
		AddRow(9, 5, entities.TierBasic, int64(400), int64(1), true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE user_id = $1`)).
		WithArgs(uint(5), 1).
		WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriptions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := NewService(db)
	sub, err := svc.Subscribe(context.Background(), 5, entities.TierStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Tier != entities.TierStandard {
		t.Fatalf("expected tier to change to standard, got %s", sub.Tier)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations (an INSERT would show up here): %v", err)
	}
}
