package entities

// RateLimitSettings holds the per-user sliding-window caps enforced by
// pkg/ratelimit. Rows are optional — absence means the defaults apply.
type RateLimitSettings struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	UserID    uint `json:"user_id" gorm:"uniqueIndex;not null"`
	PerMinute int  `json:"per_minute" gorm:"not null;default:10"`
	PerHour   int  `json:"per_hour" gorm:"not null;default:100"`
	PerDay    int  `json:"per_day" gorm:"not null;default:1000"`
}

func (RateLimitSettings) TableName() string { return "rate_limit_settings" }

// DefaultRateLimits are applied when a user has no RateLimitSettings row.
var DefaultRateLimits = RateLimitSettings{PerMinute: 10, PerHour: 100, PerDay: 1000}
