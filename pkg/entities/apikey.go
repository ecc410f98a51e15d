package entities

import (
	"time"

	"gorm.io/gorm"
)

// APIKey authorizes calls that operate against its single bound session.
// Uniqueness is enforced on Key; a lookup by key returns 0 or 1 rows.
type APIKey struct {
	gorm.Model
	Key         string    `json:"key" gorm:"uniqueIndex;type:varchar(128);not null"`
	Secret      string    `json:"-" gorm:"type:varchar(128);not null"`
	UserID      uint      `json:"user_id" gorm:"index;not null"`
	SessionID   string    `json:"session_id" gorm:"index;type:varchar(64);not null"`
	Active      bool      `json:"active" gorm:"default:true"`
	LastUsedAt  time.Time `json:"last_used_at"`
	UsageCount  int64     `json:"usage_count" gorm:"default:0"`
}

func (APIKey) TableName() string { return "api_keys" }
