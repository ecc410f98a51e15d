package entities

import (
	"time"

	"gorm.io/gorm"
)

// SessionStatus is the supervisor's state machine position for a session row.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionQRPending    SessionStatus = "qr_pending"
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
	SessionFailed       SessionStatus = "failed"
)

// Session is the top-level entity of the gateway: one WhatsApp login owned
// by one user, driven by exactly one Session Supervisor for its lifetime.
type Session struct {
	gorm.Model
	SessionID    string        `json:"session_id" gorm:"uniqueIndex;type:varchar(64);not null"`
	UserID       uint          `json:"user_id" gorm:"index;not null"`
	PhoneNumber  string        `json:"phone_number" gorm:"type:varchar(20)"`
	Status       SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'initializing'"`
	LastQRCode   []byte        `json:"-" gorm:"type:bytea"`
	LastActivity time.Time     `json:"last_activity"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (Session) TableName() string { return "sessions" }

// ConnectionEventType enumerates the supervisor lifecycle events logged
// alongside every state transition.
type ConnectionEventType string

const (
	ConnEventConnected    ConnectionEventType = "connected"
	ConnEventDisconnected ConnectionEventType = "disconnected"
	ConnEventReconnecting ConnectionEventType = "reconnecting"
	ConnEventError        ConnectionEventType = "error"
)

// ConnectionEvent is an append-only audit trail of supervisor transitions,
// written every time the state machine moves (spec.md §4.E).
type ConnectionEvent struct {
	gorm.Model
	SessionID string              `json:"session_id" gorm:"index;type:varchar(64);not null"`
	Type      ConnectionEventType `json:"type" gorm:"type:varchar(20);not null"`
	Details   string              `json:"details" gorm:"type:text"`
}

func (ConnectionEvent) TableName() string { return "connection_events" }
