package entities

import (
	"time"

	"gorm.io/gorm"
)

// WebhookEventType is the event vocabulary a webhook can subscribe to.
type WebhookEventType string

const (
	WebhookOTP               WebhookEventType = "otp"
	WebhookAnnouncement      WebhookEventType = "announcement"
	WebhookIncomingText      WebhookEventType = "incoming_text"
	WebhookIncomingMedia     WebhookEventType = "incoming_media"
	WebhookIncomingLocation  WebhookEventType = "incoming_location"
	WebhookIncomingMessage   WebhookEventType = "incoming_message"
	WebhookMessageDelivered  WebhookEventType = "message_delivered"
	WebhookMessageRead       WebhookEventType = "message_read"
	WebhookAll               WebhookEventType = "all"
)

// Webhook is a subscription to events for a (user, session, type) tuple.
// The tuple has a uniqueness constraint.
type Webhook struct {
	gorm.Model
	UserID            uint             `json:"user_id" gorm:"uniqueIndex:idx_webhook_tuple;not null"`
	SessionID         string           `json:"session_id" gorm:"uniqueIndex:idx_webhook_tuple;type:varchar(64);not null"`
	WebhookType       WebhookEventType `json:"webhook_type" gorm:"uniqueIndex:idx_webhook_tuple;type:varchar(20);not null"`
	URL               string           `json:"url" gorm:"type:text;not null"`
	SuccessWebhookURL string           `json:"success_webhook_url" gorm:"type:text"`
	FailureWebhookURL string           `json:"failure_webhook_url" gorm:"type:text"`
	CustomPayload     string           `json:"custom_payload" gorm:"type:text"` // JSON object, merged over engine payload
	Headers           string           `json:"headers" gorm:"type:text"`        // JSON object
	Secret            string           `json:"-" gorm:"type:varchar(128)"`
	IsActive          bool             `json:"is_active" gorm:"default:true"`
	RetryEnabled      bool             `json:"retry_on_failure" gorm:"default:true"`
	MaxAttempts       int              `json:"max_attempts" gorm:"default:3"`
	RetryDelaySeconds int              `json:"retry_delay_seconds" gorm:"default:5"`

	TotalCalls    int64      `json:"total_calls" gorm:"default:0"`
	SuccessCalls  int64      `json:"success_calls" gorm:"default:0"`
	FailedCalls   int64      `json:"failed_calls" gorm:"default:0"`
	LastCalledAt  *time.Time `json:"last_called_at"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastFailureAt *time.Time `json:"last_failure_at"`
}

func (Webhook) TableName() string { return "webhooks" }

// WebhookLog is a per-attempt record of a single webhook delivery try.
type WebhookLog struct {
	gorm.Model
	WebhookID       uint             `json:"webhook_id" gorm:"index;not null"`
	EventType       WebhookEventType `json:"event_type" gorm:"type:varchar(20);not null"`
	Payload         string           `json:"payload" gorm:"type:text"`
	ResponseStatus  int              `json:"response_status"`
	ResponseBody    string           `json:"response_body" gorm:"type:text"` // truncated prefix
	Success         bool             `json:"success"`
	ErrorMessage    string           `json:"error_message" gorm:"type:text"`
	Attempt         int              `json:"attempt"`
	IsRetry         bool             `json:"is_retry"`
}

func (WebhookLog) TableName() string { return "webhook_logs" }
