package database

import (
	"github.com/crm/pkg/entities"
	"gorm.io/gorm"
)

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entities.User{},
		&entities.Session{},
		&entities.ConnectionEvent{},
		&entities.APIKey{},
		&entities.Wallet{},
		&entities.WalletTransaction{},
		&entities.Subscription{},
		&entities.RateLimitSettings{},
		&entities.AutomationLog{},
		&entities.Webhook{},
		&entities.WebhookLog{},
		&entities.MessageDeliveryTracking{},
		&entities.AccountStrengthMetric{},
	)
}
