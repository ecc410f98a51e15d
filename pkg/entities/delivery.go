package entities

import "time"

// DeliveryStatus tracks a sent message through WhatsApp's ack ladder.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// MessageDeliveryTracking is updated by delivery listeners the Send
// Executor installs after a successful dispatch (spec.md §4.H).
type MessageDeliveryTracking struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	SessionID   string         `json:"session_id" gorm:"index;type:varchar(64);not null"`
	MessageID   string         `json:"message_id" gorm:"uniqueIndex;type:varchar(128);not null"`
	Recipient   string         `json:"recipient" gorm:"type:varchar(32)"`
	Status      DeliveryStatus `json:"status" gorm:"type:varchar(10);not null"`
	SentAt      time.Time      `json:"sent_at"`
	DeliveredAt *time.Time     `json:"delivered_at"`
	ReadAt      *time.Time     `json:"read_at"`
}

func (MessageDeliveryTracking) TableName() string { return "message_delivery_tracking" }

// AccountStrengthMetric is the strength-scan read model behind
// GET /api/account-strength/:userId/:sessionId.
type AccountStrengthMetric struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      uint      `json:"user_id" gorm:"index;not null"`
	SessionID   string    `json:"session_id" gorm:"index;type:varchar(64);not null"`
	Score       int       `json:"score"`
	Detail      string    `json:"detail" gorm:"type:text"`
	MeasuredAt  time.Time `json:"measured_at"`
}

func (AccountStrengthMetric) TableName() string { return "account_strength_metrics" }
