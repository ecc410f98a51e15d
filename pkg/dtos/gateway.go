package dtos

import "time"

// ConnectRequest is the body of POST /api/whatsapp/connect.
type ConnectRequest struct {
	UserID    uint   `json:"userId" binding:"required"`
	SessionID string `json:"sessionId" binding:"required"`
}

// SessionResponse mirrors a session row for the dashboard read paths.
type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	UserID       uint      `json:"user_id"`
	PhoneNumber  string    `json:"phone_number"`
	Status       string    `json:"status"`
	HasQRCode    bool      `json:"has_qr_code"`
	QRCode       string    `json:"qr_code,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// SendOTPRequest is the body of POST /api/whatsapp/send-otp and
// /api/v1/otp/send.
type SendOTPRequest struct {
	UserID    uint   `json:"userId"`
	SessionID string `json:"sessionId" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Code      string `json:"code" binding:"required"`
	Language  string `json:"language"`
}

// SendAnnouncementRequest is the body of POST /api/whatsapp/send-announcement.
type SendAnnouncementRequest struct {
	UserID     uint     `json:"userId"`
	SessionID  string   `json:"sessionId" binding:"required"`
	Recipients []string `json:"recipients" binding:"required"`
	Message    string   `json:"message" binding:"required"`
}

// TestMessageRequest is the body of POST /api/whatsapp/test-message and
// /api/v1/messages/send.
type TestMessageRequest struct {
	UserID    uint   `json:"userId"`
	SessionID string `json:"sessionId" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// BulkMessageRequest is the body of /api/v1/messages/send-bulk.
type BulkMessageRequest struct {
	SessionID  string   `json:"sessionId" binding:"required"`
	Recipients []string `json:"recipients" binding:"required"`
	Message    string   `json:"message" binding:"required"`
}

// SendReportResponse is the response shape common to every send endpoint.
type SendReportResponse struct {
	Sent      int                    `json:"sent"`
	Failed    int                    `json:"failed"`
	Refunded  float64                `json:"refunded"`
	Reason    string                 `json:"reason,omitempty"`
	Results   []RecipientResultDTO   `json:"results,omitempty"`
}

type RecipientResultDTO struct {
	Recipient string `json:"recipient"`
	Sent      bool   `json:"sent"`
	Reason    string `json:"reason,omitempty"`
}

// WalletBalanceResponse is the response of GET /api/wallet/balance/:userId.
type WalletBalanceResponse struct {
	UserID  uint    `json:"user_id"`
	Balance float64 `json:"balance"`
}

// WalletTopupRequest is the body of POST /api/wallet/topup.
type WalletTopupRequest struct {
	UserID uint    `json:"userId" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
}

// WalletTopupResponse reports the applied amount plus any tiered bonus.
type WalletTopupResponse struct {
	Amount     float64 `json:"amount"`
	Bonus      float64 `json:"bonus"`
	NewBalance float64 `json:"new_balance"`
}

// WebhookRequest is the create/update body for /api/webhooks/:userId.
type WebhookRequest struct {
	SessionID         string            `json:"session_id" binding:"required"`
	WebhookType       string            `json:"webhook_type" binding:"required"`
	URL               string            `json:"url" binding:"required"`
	SuccessWebhookURL string            `json:"success_webhook_url"`
	FailureWebhookURL string            `json:"failure_webhook_url"`
	CustomPayload     map[string]interface{} `json:"custom_payload"`
	Headers           map[string]string `json:"headers"`
	RetryEnabled      *bool             `json:"retry_on_failure"`
	MaxAttempts       int               `json:"max_attempts"`
	RetryDelaySeconds int               `json:"retry_delay_seconds"`
}

// SubscribeRequest changes a user's active plan.
type SubscribeRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// RateLimitSettingsRequest updates a user's per-window caps.
type RateLimitSettingsRequest struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// AuthInfoResponse answers GET /api/v1/auth/info.
type AuthInfoResponse struct {
	UserID    uint   `json:"user_id"`
	SessionID string `json:"session_id"`
}
