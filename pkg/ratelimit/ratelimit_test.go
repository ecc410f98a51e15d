package ratelimit

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

func TestCheck_UsesDefaultsWhenNoSettingsRow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rate_limit_settings" WHERE user_id = $1`)).
		WithArgs(uint(3), 1).
		WillReturnError(gorm.ErrRecordNotFound)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "automation_logs" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "automation_logs" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "automation_logs" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	svc := NewService(db)
	result, err := svc.Check(context.Background(), 3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected an unthrottled user to be allowed")
	}
}

func TestCheck_MinuteWindowExceededStopsEarly(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rate_limit_settings" WHERE user_id = $1`)).
		WithArgs(uint(3), 1).
		WillReturnError(gorm.ErrRecordNotFound)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "automation_logs" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	svc := NewService(db)
	result, err := svc.Check(context.Background(), 3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected minute window to reject once count reaches the cap")
	}
	if result.ExceededWindow != WindowMinute {
		t.Fatalf("expected the minute window to be the one that rejected, got %s", result.ExceededWindow)
	}
	if result.Limit != 10 || result.CurrentCount != 10 {
		t.Fatalf("expected limit/current to be carried through, got limit=%d current=%d", result.Limit, result.CurrentCount)
	}
}

// TestCheck_BulkRequestCountsAgainstWindow: per_minute cap of 2, 1 already
// sent this minute, a bulk request for 2 more must be rejected (1+2 > 2)
// even though the window count alone (1) is still below the cap.
func TestCheck_BulkRequestCountsAgainstWindow(t *testing.T) {
	db, mock := newMockDB(t)

	settingsRows := sqlmock.NewRows([]string{"id", "user_id", "per_minute", "per_hour", "per_day"}).
		AddRow(1, 3, 2, 100, 1000)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rate_limit_settings" WHERE user_id = $1`)).
		WithArgs(uint(3), 1).
		WillReturnRows(settingsRows)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "automation_logs" WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	svc := NewService(db)
	result, err := svc.Check(context.Background(), 3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected a bulk request that would push the window over its cap to be rejected")
	}
	if result.Limit != 2 || result.CurrentCount != 1 {
		t.Fatalf("expected limit=2 current=1, got limit=%d current=%d", result.Limit, result.CurrentCount)
	}
}
