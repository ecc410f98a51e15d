// Package apikey generates and authenticates the API-key credentials
// bound to a single (user, session) pair (spec.md §3, §6).
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"time"

	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/rowstore"
	"gorm.io/gorm"
)

var ErrInvalidKey = errors.New("invalid API key")

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// generateSecret mirrors generate_api_secret's local fallback: an
// independent random secret never returned to callers.
func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// IssueIfAbsent generates a fresh key for the session on its first
// `connected` transition, unless an active key already exists
// (spec.md §4.E "On ready").
func (s *Service) IssueIfAbsent(ctx context.Context, userID uint, sessionID string) (*entities.APIKey, error) {
	var existing entities.APIKey
	err := s.db.WithContext(ctx).Where("session_id = ? AND active = ?", sessionID, true).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	raw := make([]byte, 32)
	if _, rerr := rand.Read(raw); rerr != nil {
		return nil, rerr
	}
	key := rowstore.GenerateAPIKeyLocal(base64.RawURLEncoding.EncodeToString(raw))
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	record := entities.APIKey{
		Key:       key,
		Secret:    secret,
		UserID:    userID,
		SessionID: sessionID,
		Active:    true,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Lookup resolves a raw key to its active row and stamps usage. Returns
// ErrInvalidKey for a miss or a revoked key.
func (s *Service) Lookup(ctx context.Context, rawKey string) (*entities.APIKey, error) {
	var key entities.APIKey
	err := s.db.WithContext(ctx).Where("key = ? AND active = ?", rawKey, true).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}

	key.LastUsedAt = time.Now()
	key.UsageCount++
	_ = s.db.WithContext(ctx).Model(&entities.APIKey{}).Where("id = ?", key.ID).
		Updates(map[string]interface{}{"last_used_at": key.LastUsedAt, "usage_count": key.UsageCount}).Error

	return &key, nil
}

// Revoke deactivates a key without deleting its audit trail.
func (s *Service) Revoke(ctx context.Context, rawKey string) error {
	return s.db.WithContext(ctx).Model(&entities.APIKey{}).Where("key = ?", rawKey).
		Update("active", false).Error
}
