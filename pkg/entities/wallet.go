package entities

import "gorm.io/gorm"

// Wallet is a per-user IQD balance, mutated exclusively through
// pkg/wallet's debit/credit operation.
type Wallet struct {
	gorm.Model
	UserID  uint    `json:"user_id" gorm:"uniqueIndex;not null"`
	Balance float64 `json:"balance" gorm:"not null;default:0"`
}

func (Wallet) TableName() string { return "wallets" }

// WalletTransactionType classifies a ledger row.
type WalletTransactionType string

const (
	WalletTxnInitial WalletTransactionType = "initial"
	WalletTxnDebit   WalletTransactionType = "debit"
	WalletTxnCredit  WalletTransactionType = "credit"
)

// WalletTransaction is the append-only ledger row written alongside every
// balance mutation. Invariant: BalanceAfter = BalanceBefore ± Amount.
type WalletTransaction struct {
	gorm.Model
	UserID        uint                   `json:"user_id" gorm:"index;not null"`
	SessionID     string                 `json:"session_id" gorm:"type:varchar(64)"`
	Type          WalletTransactionType  `json:"type" gorm:"type:varchar(10);not null"`
	Amount        float64                `json:"amount" gorm:"not null"`
	BalanceBefore float64                `json:"balance_before" gorm:"not null"`
	BalanceAfter  float64                `json:"balance_after" gorm:"not null"`
	Description   string                 `json:"description" gorm:"type:text"`
	ReferenceID   string                 `json:"reference_id" gorm:"index;type:varchar(128)"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }
