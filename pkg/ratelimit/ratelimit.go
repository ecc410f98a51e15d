// Package ratelimit is the Admission Pipeline's rate-limit gate (spec.md
// §4.G gate 4): sliding 1-minute/1-hour/24-hour windows counted against
// automation_logs, capped per-user by rate_limit_settings or the defaults.
package ratelimit

import (
	"context"
	"time"

	"github.com/crm/pkg/entities"
	"gorm.io/gorm"
)

type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Result reports which window, if any, rejected the request.
type Result struct {
	Allowed         bool
	ExceededWindow  Window
	Limit           int
	CurrentCount    int64
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) settings(ctx context.Context, userID uint) entities.RateLimitSettings {
	var rl entities.RateLimitSettings
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rl).Error; err != nil {
		return entities.DefaultRateLimits
	}
	return rl
}

// Check counts sent-or-partial automation_logs rows for the user within
// each window and compares window-count-plus-requested against that
// window's cap, tightest first so the caller gets the most immediately
// actionable rejection reason. requestedCount is how many messages this
// call would add (spec.md §4.G gate 4's "window-count + requested-count
// > limit" rule); values <= 0 default to 1.
func (s *Service) Check(ctx context.Context, userID uint, requestedCount int) (Result, error) {
	if requestedCount <= 0 {
		requestedCount = 1
	}

	limits := s.settings(ctx, userID)

	windows := []struct {
		w     Window
		since time.Duration
		cap   int
	}{
		{WindowMinute, time.Minute, limits.PerMinute},
		{WindowHour, time.Hour, limits.PerHour},
		{WindowDay, 24 * time.Hour, limits.PerDay},
	}

	for _, win := range windows {
		var count int64
		err := s.db.WithContext(ctx).Model(&entities.AutomationLog{}).
			Where("user_id = ? AND status IN ? AND created_at >= ?",
				userID, []entities.AutomationStatus{entities.AutomationSent, entities.AutomationPartial},
				time.Now().Add(-win.since)).
			Count(&count).Error
		if err != nil {
			return Result{}, err
		}
		if win.cap >= 0 && count+int64(requestedCount) > int64(win.cap) {
			return Result{Allowed: false, ExceededWindow: win.w, Limit: win.cap, CurrentCount: count}, nil
		}
	}
	return Result{Allowed: true}, nil
}

// UpdateSettings upserts a user's per-window caps for the dashboard
// settings endpoint (spec.md §6).
func (s *Service) UpdateSettings(ctx context.Context, userID uint, perMinute, perHour, perDay int) error {
	rl := entities.RateLimitSettings{UserID: userID, PerMinute: perMinute, PerHour: perHour, PerDay: perDay}
	return s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Assign(rl).
		FirstOrCreate(&rl).Error
}
