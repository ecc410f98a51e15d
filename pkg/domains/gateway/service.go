// Package gateway is the thin adapter layer (component J, spec.md §4.J)
// binding the dashboard and API-key HTTP surfaces to the Admission
// Pipeline, Session Registry, Webhook Engine and their supporting
// services. It is the same repo+service layering the auth domain uses,
// scaled to the gateway's wider set of collaborators.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crm/pkg/admission"
	"github.com/crm/pkg/apikey"
	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/objectstore"
	"github.com/crm/pkg/ratelimit"
	"github.com/crm/pkg/registry"
	"github.com/crm/pkg/rowstore"
	"github.com/crm/pkg/sendexecutor"
	"github.com/crm/pkg/sessionstorage"
	"github.com/crm/pkg/subscription"
	"github.com/crm/pkg/wallet"
	"github.com/crm/pkg/webhook"
	"gorm.io/gorm"
)

var ErrDuplicateConnect = errors.New("gateway: user already has a connected session")
var ErrSessionNotFound = errors.New("gateway: session not found")
var ErrWebhookNotFound = errors.New("gateway: webhook not found")

type Service struct {
	db           *gorm.DB
	registry     *registry.Registry
	pipeline     *admission.Pipeline
	wallets      *wallet.Service
	subs         *subscription.Service
	rates        *ratelimit.Service
	webhooks     *webhook.Engine
	apiKeys      *apikey.Service
	storage      *sessionstorage.Service
	objects      *objectstore.Store
	rowStore     *rowstore.Store
}

func NewService(
	db *gorm.DB,
	reg *registry.Registry,
	pipeline *admission.Pipeline,
	wallets *wallet.Service,
	subs *subscription.Service,
	rates *ratelimit.Service,
	webhooks *webhook.Engine,
	apiKeys *apikey.Service,
	storage *sessionstorage.Service,
	objects *objectstore.Store,
) *Service {
	return &Service{
		db: db, registry: reg, pipeline: pipeline, wallets: wallets, subs: subs,
		rates: rates, webhooks: webhooks, apiKeys: apiKeys, storage: storage,
		objects: objects, rowStore: rowstore.New(db),
	}
}

// Connect implements POST /api/whatsapp/connect: creates the session row
// (if absent), rejects a duplicate connected session for the same user
// (spec.md §7 "duplicate connect guard"), and schedules the supervisor.
func (s *Service) Connect(ctx context.Context, userID uint, sessionID string) (*entities.Session, error) {
	var existing entities.Session
	err := s.db.WithContext(ctx).Where("user_id = ? AND status = ? AND session_id != ?",
		userID, entities.SessionConnected, sessionID).First(&existing).Error
	if err == nil {
		return nil, ErrDuplicateConnect
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var row entities.Session
	err = s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = entities.Session{SessionID: sessionID, UserID: userID, Status: entities.SessionInitializing, LastActivity: time.Now()}
		if createErr := s.db.WithContext(ctx).Create(&row).Error; createErr != nil {
			return nil, createErr
		}
	} else if err != nil {
		return nil, err
	}

	s.registry.CreateIfAbsent(sessionID, userID, false)
	return &row, nil
}

// Session returns the current row for a session id.
func (s *Service) Session(ctx context.Context, sessionID string) (*entities.Session, error) {
	var row entities.Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	return &row, err
}

// Disconnect closes a live worker (no WhatsApp logout is sent) and
// removes the session row and its auth directory.
func (s *Service) Disconnect(ctx context.Context, sessionID string) error {
	if sup, ok := s.registry.Get(sessionID); ok {
		if err := sup.Disconnect(ctx); err != nil {
			return err
		}
	} else if s.storage != nil {
		if err := s.storage.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&entities.Session{}).Error
}

// SendOTP runs the single-message admission path for an OTP payload.
func (s *Service) SendOTP(ctx context.Context, userID uint, sessionID, recipient, code, lang string) admission.Report {
	body := sendexecutor.ComposeOTP(code, lang)
	return s.pipeline.Send(ctx, admission.Request{
		UserID:     userID,
		SessionID:  sessionID,
		Recipients: []string{recipient},
		Message:    body,
		Type:       entities.AutomationOTP,
	})
}

// SendAnnouncement runs the bulk admission path.
func (s *Service) SendAnnouncement(ctx context.Context, userID uint, sessionID string, recipients []string, message string) admission.Report {
	return s.pipeline.Send(ctx, admission.Request{
		UserID:     userID,
		SessionID:  sessionID,
		Recipients: recipients,
		Message:    message,
		Type:       entities.AutomationAnnouncement,
	})
}

// SendAPIMessage backs both the dashboard test-message endpoint and
// /api/v1/messages/send: the single-message path, logged under the
// api_message automation type (spec.md §3).
func (s *Service) SendAPIMessage(ctx context.Context, userID uint, sessionID, recipient, message string) admission.Report {
	return s.pipeline.Send(ctx, admission.Request{
		UserID:     userID,
		SessionID:  sessionID,
		Recipients: []string{recipient},
		Message:    message,
		Type:       entities.AutomationAPIMessage,
	})
}

func (s *Service) SendBulkAPIMessage(ctx context.Context, userID uint, sessionID string, recipients []string, message string) admission.Report {
	return s.pipeline.Send(ctx, admission.Request{
		UserID:     userID,
		SessionID:  sessionID,
		Recipients: recipients,
		Message:    message,
		Type:       entities.AutomationAPIMessage,
	})
}

func (s *Service) WalletBalance(ctx context.Context, userID uint) (float64, error) {
	return s.wallets.Balance(ctx, userID)
}

func (s *Service) WalletTransactions(ctx context.Context, userID uint) ([]entities.WalletTransaction, error) {
	return s.wallets.Transactions(ctx, userID, 100)
}

func (s *Service) Topup(ctx context.Context, userID uint, amount float64) (applied, bonus, balance float64, err error) {
	bonus = s.rowStore.CalculateTopupBonus(amount)
	total := amount + bonus
	balance, err = s.wallets.Credit(ctx, userID, total, "wallet top-up", fmt.Sprintf("topup-%d", time.Now().UnixNano()))
	return amount, bonus, balance, err
}

func (s *Service) Subscriptions() map[entities.SubscriptionTier]entities.TierLimits {
	return entities.TierCatalog
}

func (s *Service) Subscribe(ctx context.Context, userID uint, tier entities.SubscriptionTier) (*entities.Subscription, error) {
	return s.subs.Subscribe(ctx, userID, tier)
}

func (s *Service) ActiveSubscription(ctx context.Context, userID uint) (*entities.Subscription, error) {
	return s.subs.Active(ctx, userID)
}

func (s *Service) UpdateRateLimitSettings(ctx context.Context, userID uint, perMinute, perHour, perDay int) error {
	return s.rates.UpdateSettings(ctx, userID, perMinute, perHour, perDay)
}

// -- Webhooks --------------------------------------------------------------

func (s *Service) ListWebhooks(ctx context.Context, userID uint) ([]entities.Webhook, error) {
	var hooks []entities.Webhook
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&hooks).Error
	return hooks, err
}

func (s *Service) CreateWebhook(ctx context.Context, hook entities.Webhook) (*entities.Webhook, error) {
	if err := s.db.WithContext(ctx).Create(&hook).Error; err != nil {
		return nil, err
	}
	return &hook, nil
}

func (s *Service) UpdateWebhook(ctx context.Context, id uint, userID uint, updates map[string]interface{}) (*entities.Webhook, error) {
	var hook entities.Webhook
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&hook).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&hook).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &hook, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, id, userID uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&entities.Webhook{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

func (s *Service) WebhookLogs(ctx context.Context, webhookID uint, limit int) ([]entities.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []entities.WebhookLog
	err := s.db.WithContext(ctx).Where("webhook_id = ?", webhookID).Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// WebhookStats surfaces the running delivery counters the engine already
// maintains on every webhook row.
func (s *Service) WebhookStats(ctx context.Context, id, userID uint) (*entities.Webhook, error) {
	var hook entities.Webhook
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&hook).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebhookNotFound
	}
	return &hook, err
}

func (s *Service) TestWebhook(ctx context.Context, id, userID uint) error {
	var hook entities.Webhook
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&hook).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrWebhookNotFound
	}
	if err != nil {
		return err
	}
	s.webhooks.TestFire(ctx, hook)
	return nil
}

// -- Account strength -------------------------------------------------------

func (s *Service) AccountStrength(ctx context.Context, userID uint, sessionID string) (*entities.AccountStrengthMetric, error) {
	var metric entities.AccountStrengthMetric
	err := s.db.WithContext(ctx).Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("measured_at DESC").First(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &metric, err
}

func (s *Service) AccountStrengthLogs(ctx context.Context, userID uint, sessionID string) ([]entities.AccountStrengthMetric, error) {
	var metrics []entities.AccountStrengthMetric
	err := s.db.WithContext(ctx).Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("measured_at DESC").Limit(50).Find(&metrics).Error
	return metrics, err
}

// StrengthenComprehensive runs a gated chain of harmless worker
// activities: fetch profile, sync contacts, check state, brief idle (no
// mark-read step is run) — then stamps last_activity and
// writes a strength score derived from how many steps succeeded.
func (s *Service) StrengthenComprehensive(ctx context.Context, userID uint, sessionID string) (*entities.AccountStrengthMetric, error) {
	sup, ok := s.registry.Get(sessionID)
	if !ok || !sup.Ready() {
		return nil, ErrSessionNotFound
	}
	worker := sup.Worker()

	steps := []struct {
		name string
		run  func() error
	}{
		{"fetch_profile", func() error { return worker.FetchProfile(ctx) }},
		{"sync_contacts", func() error { return worker.SyncContacts(ctx) }},
		{"check_state", func() error { _, err := worker.CheckState(ctx); return err }},
	}

	succeeded := 0
	var detail []string
	for _, step := range steps {
		if err := step.run(); err != nil {
			detail = append(detail, fmt.Sprintf("%s: %v", step.name, err))
			continue
		}
		succeeded++
	}
	time.Sleep(250 * time.Millisecond) // brief idle, spec.md §6

	score := (succeeded * 100) / len(steps)
	detailJSON, _ := json.Marshal(detail)

	if err := s.rowStore.UpdateAccountStrengthMetrics(ctx, userID, sessionID, score, string(detailJSON)); err != nil {
		return nil, err
	}

	s.db.WithContext(ctx).Model(&entities.Session{}).Where("session_id = ?", sessionID).
		Update("last_activity", time.Now())

	return s.AccountStrength(ctx, userID, sessionID)
}

