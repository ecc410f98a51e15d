package entities

import "time"

// SubscriptionTier is one of the three fixed plans described in spec.md §3.
type SubscriptionTier string

const (
	TierBasic    SubscriptionTier = "basic"
	TierStandard SubscriptionTier = "standard"
	TierPremium  SubscriptionTier = "premium"
)

// TierLimits describes the quota a tier grants. A zero Unlimited* flag
// means the corresponding *Used counter must be checked against the cap.
type TierLimits struct {
	MessageCap      int
	NumberCap       int
	Unlimited       bool
	ValidForDays    int // 0 means never expires (premium)
}

// TierCatalog is the fixed set of plans; not persisted, mirrors the
// external subscriptions-tier CRUD collaborator named in spec.md §6.
var TierCatalog = map[SubscriptionTier]TierLimits{
	TierBasic:    {MessageCap: 1200, NumberCap: 1, ValidForDays: 30},
	TierStandard: {MessageCap: 3000, NumberCap: 3, ValidForDays: 30},
	TierPremium:  {Unlimited: true},
}

// Subscription is the per-user active tier plus its running usage
// counters. At most one active subscription per user.
type Subscription struct {
	ID            uint             `json:"id" gorm:"primaryKey"`
	UserID        uint             `json:"user_id" gorm:"uniqueIndex;not null"`
	Tier          SubscriptionTier `json:"tier" gorm:"type:varchar(20);not null"`
	MessagesUsed  int64            `json:"messages_used" gorm:"not null;default:0"`
	NumbersUsed   int64            `json:"numbers_used" gorm:"not null;default:0"`
	ActivatedAt   time.Time        `json:"activated_at"`
	ExpiresAt     *time.Time       `json:"expires_at"`
	Active        bool             `json:"active" gorm:"default:true"`
}

func (Subscription) TableName() string { return "subscriptions" }
