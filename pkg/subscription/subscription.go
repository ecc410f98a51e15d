// Package subscription is the tier/quota façade the Admission Pipeline's
// subscription gate (spec.md §4.G gate 3) and the dashboard subscription
// endpoints (spec.md §6) both call into.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/rowstore"
	"gorm.io/gorm"
)

var ErrNoActiveSubscription = errors.New("no active subscription")

type Service struct {
	db    *gorm.DB
	store *rowstore.Store
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, store: rowstore.New(db)}
}

// Check is the gate: does the user's active subscription have room for
// messagesNeeded more messages (and numbersNeeded more distinct sessions)?
func (s *Service) Check(ctx context.Context, userID uint, messagesNeeded, numbersNeeded int) (rowstore.SubscriptionCheckResult, error) {
	return s.store.CheckSubscriptionLimits(ctx, userID, messagesNeeded, numbersNeeded)
}

// RecordUsage is called after a successful send/bulk-send or after a
// session first reaches Connected (spec.md §8: usage counters only grow).
func (s *Service) RecordUsage(ctx context.Context, userID uint, messages, numbers int) error {
	return s.store.IncrementSubscriptionUsage(ctx, userID, messages, numbers)
}

// Active returns the user's current subscription row.
func (s *Service) Active(ctx context.Context, userID uint) (*entities.Subscription, error) {
	var sub entities.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Subscribe activates the requested tier for userID, mirroring the
// dashboard "change plan" endpoint. Subscription.UserID carries a unique
// index — at most one subscription row ever exists per user (spec.md §3
// "at most one active subscription") — so a tier change updates that row
// in place rather than deactivating it and inserting a new one, which
// would collide with the index on the second and every later change.
func (s *Service) Subscribe(ctx context.Context, userID uint, tier entities.SubscriptionTier) (*entities.Subscription, error) {
	limits, ok := entities.TierCatalog[tier]
	if !ok {
		return nil, errors.New("unknown subscription tier")
	}

	now := time.Now()
	var expiresAt *time.Time
	if limits.ValidForDays > 0 {
		expires := now.AddDate(0, 0, limits.ValidForDays)
		expiresAt = &expires
	}

	sub := entities.Subscription{
		UserID:      userID,
		Tier:        tier,
		ActivatedAt: now,
		ExpiresAt:   expiresAt,
		Active:      true,
	}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Assign(map[string]interface{}{
			"tier":          tier,
			"messages_used": 0,
			"numbers_used":  0,
			"activated_at":  now,
			"expires_at":    expiresAt,
			"active":        true,
		}).
		FirstOrCreate(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Limits looks up one tier in the fixed tier catalog.
func Limits(tier entities.SubscriptionTier) (entities.TierLimits, bool) {
	l, ok := entities.TierCatalog[tier]
	return l, ok
}
