// Package rowstore is the typed operations layer over the row store
// (component A in spec.md §2): typed queries plus the named "remote
// procedures" spec.md §6 lists as opaque collaborators.
//
// spec.md treats these procedures as pre-existing DB-resident functions
// the system merely calls by name. This module has no external RPC
// surface to call into, so each procedure is given a local, transactional
// Go implementation instead — the same contract, executed in-process
// under a row lock rather than inside a stored procedure body. Only
// generate_api_key/generate_api_secret are documented in spec.md as
// having a local fallback; the rest are promoted to local-only here for
// the same reason, and that decision is recorded in DESIGN.md.
package rowstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crm/pkg/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientBalance is returned by DeductWalletBalance when the debit
// would take the balance negative; the caller must not have mutated
// anything by the time this is returned.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Store wraps *gorm.DB with the row-store operations the domain packages
// need. It is intentionally table-shaped rather than a generic repository:
// each method name matches the spec.md §6 remote-procedure vocabulary.
type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// DeductWalletBalance implements the deduct_wallet_balance procedure: a
// serializable read-check-debit-log under a row lock, so concurrent sends
// for the same user cannot both observe a stale balance (spec.md §4.G).
// defaultBalance seeds a first-touch wallet before the debit is attempted.
func (s *Store) DeductWalletBalance(ctx context.Context, userID uint, sessionID string, amount float64, description, referenceID string, defaultBalance float64) (balanceAfter float64, err error) {
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet entities.Wallet
		lockErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error
		if errors.Is(lockErr, gorm.ErrRecordNotFound) {
			wallet = entities.Wallet{UserID: userID, Balance: defaultBalance}
			if createErr := tx.Create(&wallet).Error; createErr != nil {
				return createErr
			}
			if defaultBalance > 0 {
				if logErr := tx.Create(&entities.WalletTransaction{
					UserID:        userID,
					Type:          entities.WalletTxnInitial,
					Amount:        defaultBalance,
					BalanceBefore: 0,
					BalanceAfter:  defaultBalance,
					Description:   "initial wallet balance",
				}).Error; logErr != nil {
					return logErr
				}
			}
		} else if lockErr != nil {
			return lockErr
		}

		if wallet.Balance < amount {
			return ErrInsufficientBalance
		}

		before := wallet.Balance
		wallet.Balance -= amount
		if saveErr := tx.Save(&wallet).Error; saveErr != nil {
			return saveErr
		}

		txn := entities.WalletTransaction{
			UserID:        userID,
			SessionID:     sessionID,
			Type:          entities.WalletTxnDebit,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  wallet.Balance,
			Description:   description,
			ReferenceID:   referenceID,
		}
		if logErr := tx.Create(&txn).Error; logErr != nil {
			return logErr
		}
		balanceAfter = wallet.Balance
		return nil
	})
	return balanceAfter, err
}

// CreditWallet implements the compensating side of deduct_wallet_balance:
// a refund or top-up credit, logged the same way.
func (s *Store) CreditWallet(ctx context.Context, userID uint, sessionID string, amount float64, description, referenceID string) (balanceAfter float64, err error) {
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet entities.Wallet
		lockErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error
		if errors.Is(lockErr, gorm.ErrRecordNotFound) {
			wallet = entities.Wallet{UserID: userID, Balance: 0}
			if createErr := tx.Create(&wallet).Error; createErr != nil {
				return createErr
			}
		} else if lockErr != nil {
			return lockErr
		}

		before := wallet.Balance
		wallet.Balance += amount
		if saveErr := tx.Save(&wallet).Error; saveErr != nil {
			return saveErr
		}

		txn := entities.WalletTransaction{
			UserID:        userID,
			SessionID:     sessionID,
			Type:          entities.WalletTxnCredit,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  wallet.Balance,
			Description:   description,
			ReferenceID:   referenceID,
		}
		if logErr := tx.Create(&txn).Error; logErr != nil {
			return logErr
		}
		balanceAfter = wallet.Balance
		return nil
	})
	return balanceAfter, err
}

// SubscriptionCheckResult mirrors check_subscription_limits's verdict.
type SubscriptionCheckResult struct {
	Allowed bool
	Reason  string // reason code verbatim when not allowed
}

// CheckSubscriptionLimits implements check_subscription_limits: verify the
// user's active subscription can absorb messagesNeeded/numbersNeeded more
// usage. Premium never enforces a cap (spec.md §3, §8 non-decreasing usage).
func (s *Store) CheckSubscriptionLimits(ctx context.Context, userID uint, messagesNeeded, numbersNeeded int) (SubscriptionCheckResult, error) {
	var sub entities.Subscription
	err := s.DB.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SubscriptionCheckResult{Allowed: false, Reason: "no_active_subscription"}, nil
	}
	if err != nil {
		return SubscriptionCheckResult{}, err
	}

	limits, ok := entities.TierCatalog[sub.Tier]
	if !ok {
		return SubscriptionCheckResult{Allowed: false, Reason: "unknown_tier"}, nil
	}
	if limits.Unlimited {
		return SubscriptionCheckResult{Allowed: true}, nil
	}
	if sub.ExpiresAt != nil && time.Now().After(*sub.ExpiresAt) {
		return SubscriptionCheckResult{Allowed: false, Reason: "subscription_expired"}, nil
	}
	if int(sub.MessagesUsed)+messagesNeeded > limits.MessageCap {
		return SubscriptionCheckResult{Allowed: false, Reason: "message_quota_exceeded"}, nil
	}
	if numbersNeeded > 0 && int(sub.NumbersUsed)+numbersNeeded > limits.NumberCap {
		return SubscriptionCheckResult{Allowed: false, Reason: "number_quota_exceeded"}, nil
	}
	return SubscriptionCheckResult{Allowed: true}, nil
}

// IncrementSubscriptionUsage implements increment_subscription_usage.
// messagesUsed/numbersUsed only ever grow (spec.md §8).
func (s *Store) IncrementSubscriptionUsage(ctx context.Context, userID uint, messages, numbers int) error {
	if messages == 0 && numbers == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&entities.Subscription{}).
		Where("user_id = ? AND active = ?", userID, true).
		Updates(map[string]interface{}{
			"messages_used": gorm.Expr("messages_used + ?", messages),
			"numbers_used":  gorm.Expr("numbers_used + ?", numbers),
		}).Error
}

// CalculateTopupBonus implements calculate_topup_bonus: a simple tiered
// bonus schedule external collaborators (the top-up CRUD endpoint) invoke.
func (s *Store) CalculateTopupBonus(amount float64) float64 {
	switch {
	case amount >= 100000:
		return amount * 0.15
	case amount >= 50000:
		return amount * 0.10
	case amount >= 20000:
		return amount * 0.05
	default:
		return 0
	}
}

// UpdateAccountStrengthMetrics implements
// update_account_strength_metrics(_improved): appends a new metric row on
// every call; the newest row by measured_at is the current score.
func (s *Store) UpdateAccountStrengthMetrics(ctx context.Context, userID uint, sessionID string, score int, detail string) error {
	metric := entities.AccountStrengthMetric{
		UserID:     userID,
		SessionID:  sessionID,
		Score:      score,
		Detail:     detail,
		MeasuredAt: time.Now(),
	}
	return s.DB.WithContext(ctx).Create(&metric).Error
}

// UpdateWebhookStats implements update_webhook_stats: a single atomic
// counter update fired once per event after the final retry attempt.
func (s *Store) UpdateWebhookStats(ctx context.Context, webhookID uint, success bool) error {
	now := time.Now()
	updates := map[string]interface{}{
		"total_calls":    gorm.Expr("total_calls + 1"),
		"last_called_at": now,
	}
	if success {
		updates["success_calls"] = gorm.Expr("success_calls + 1")
		updates["last_success_at"] = now
	} else {
		updates["failed_calls"] = gorm.Expr("failed_calls + 1")
		updates["last_failure_at"] = now
	}
	return s.DB.WithContext(ctx).Model(&entities.Webhook{}).
		Where("id = ?", webhookID).Updates(updates).Error
}

// GenerateAPIKeyLocal is the local fallback for generate_api_key named in
// spec.md §6, used by pkg/apikey.
func GenerateAPIKeyLocal(rawKey string) string {
	return fmt.Sprintf("wass_%s", rawKey)
}
