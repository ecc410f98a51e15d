// Package wallet is the per-user prepaid balance used by the Admission
// Pipeline's debit gate (spec.md §4.G) and its compensating refunds.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/crm/pkg/entities"
	"github.com/crm/pkg/rowstore"
	"gorm.io/gorm"
)

const DefaultInitialBalance = 1000

var ErrInsufficientBalance = rowstore.ErrInsufficientBalance

type Service struct {
	db    *gorm.DB
	store *rowstore.Store
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, store: rowstore.New(db)}
}

// Balance returns the user's current balance, seeding the default on
// first touch without mutating it until a debit or credit occurs.
func (s *Service) Balance(ctx context.Context, userID uint) (float64, error) {
	var w entities.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultInitialBalance, nil
	}
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// Debit is the single-message and bulk-upfront debit path (spec.md §4.G
// gate 5). The default balance is seeded transactionally if this is the
// user's first-ever wallet touch.
func (s *Service) Debit(ctx context.Context, userID uint, sessionID string, amount float64, description, referenceID string) (float64, error) {
	return s.store.DeductWalletBalance(ctx, userID, sessionID, amount, description, referenceID, DefaultInitialBalance)
}

// Refund posts a compensating credit whose reference id is derived from
// the original debit's reference so a reconciliation scan can pair them
// (spec.md §9 "compensating-action record appended under the same
// reference root").
func (s *Service) Refund(ctx context.Context, userID uint, sessionID string, amount float64, reason, originalReferenceID string) (float64, error) {
	refundRef := fmt.Sprintf("refund_%s", originalReferenceID)
	description := fmt.Sprintf("refund: %s", reason)
	return s.store.CreditWallet(ctx, userID, sessionID, amount, description, refundRef)
}

// Credit is used by the top-up endpoint (external collaborator surface,
// spec.md §6) and by explicit reconciliation.
func (s *Service) Credit(ctx context.Context, userID uint, amount float64, description, referenceID string) (float64, error) {
	return s.store.CreditWallet(ctx, userID, "", amount, description, referenceID)
}

// Transactions lists a user's ledger, newest first, for the wallet
// transactions read path in spec.md §6.
func (s *Service) Transactions(ctx context.Context, userID uint, limit int) ([]entities.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var txns []entities.WalletTransaction
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&txns).Error
	return txns, err
}

// OrphanDebit is a debit with no matching "refund_<reference>" credit,
// surfaced by Reconcile.
type OrphanDebit struct {
	Transaction entities.WalletTransaction
}

// Reconcile implements the redesign note in spec.md §9: scan a user's
// ledger for debits whose reference root has no corresponding refund
// credit, without asserting whether they *should* have been refunded
// (that determination belongs to the automation log, not the ledger).
func (s *Service) Reconcile(ctx context.Context, userID uint) ([]OrphanDebit, error) {
	var debits []entities.WalletTransaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND reference_id != ''", userID, entities.WalletTxnDebit).
		Find(&debits).Error; err != nil {
		return nil, err
	}

	var credits []entities.WalletTransaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND reference_id LIKE ?", userID, entities.WalletTxnCredit, "refund_%").
		Find(&credits).Error; err != nil {
		return nil, err
	}

	refunded := make(map[string]bool, len(credits))
	for _, c := range credits {
		refunded[c.ReferenceID] = true
	}

	var orphans []OrphanDebit
	for _, d := range debits {
		if !refunded[fmt.Sprintf("refund_%s", d.ReferenceID)] {
			orphans = append(orphans, OrphanDebit{Transaction: d})
		}
	}
	return orphans, nil
}
