package entities

import (
	"time"

	"gorm.io/gorm"
)

// AutomationType classifies an outbound send attempt.
type AutomationType string

const (
	AutomationOTP           AutomationType = "otp"
	AutomationAnnouncement  AutomationType = "announcement"
	AutomationAPIMessage    AutomationType = "api_message"
	AutomationStrengthening AutomationType = "strengthening"
)

// AutomationStatus is the outcome recorded for an attempt.
type AutomationStatus string

const (
	AutomationSent    AutomationStatus = "sent"
	AutomationPartial AutomationStatus = "partial"
	AutomationFailed  AutomationStatus = "failed"
)

// AutomationLog is the append-only record of every outbound send attempt.
// It is both the audit trail and the source rate limiting counts against.
type AutomationLog struct {
	gorm.Model
	UserID       uint             `json:"user_id" gorm:"index;not null"`
	SessionID    string           `json:"session_id" gorm:"index;type:varchar(64);not null"`
	Type         AutomationType   `json:"type" gorm:"type:varchar(20);not null"`
	Recipient    string           `json:"recipient" gorm:"type:varchar(32)"`
	Recipients   string           `json:"recipients" gorm:"type:text"` // JSON array for bulk
	Message      string           `json:"message" gorm:"type:text"`
	Status       AutomationStatus `json:"status" gorm:"type:varchar(10);not null"`
	ErrorMessage string           `json:"error_message" gorm:"type:text"` // JSON list for bulk
	SentAt       time.Time        `json:"sent_at"`
}

func (AutomationLog) TableName() string { return "automation_logs" }
