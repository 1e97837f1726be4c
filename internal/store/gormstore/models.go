package gormstore

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account mirrors the wallet_accounts table. BalanceKobo is the derived
// balance the service maintains inside Apply's transaction.
type Account struct {
	AccountID             string `gorm:"primaryKey"`
	BalanceKobo           int64  `gorm:"not null;default:0"`
	ExternalAccountNumber string `gorm:"not null;uniqueIndex"`
	BankCode              string `gorm:"not null"`
	CreatedAtUnix         int64  `gorm:"not null"`
}

func (Account) TableName() string { return "wallet_accounts" }

// WalletEntry mirrors the wallet_entries table. The unique index on
// ExternalReference is the idempotency mechanism.
type WalletEntry struct {
	EntryID           string         `gorm:"primaryKey"`
	AccountID         string         `gorm:"not null;index:idx_entries_account_recorded,priority:1"`
	Direction         string         `gorm:"not null"`
	AmountKobo        int64          `gorm:"not null"`
	BalanceBeforeKobo int64          `gorm:"not null"`
	ExternalReference string         `gorm:"not null;uniqueIndex"`
	Narration         string         `gorm:"not null"`
	OccurredAtUnix    int64          `gorm:"not null"`
	RecordedAtUnix    int64          `gorm:"not null;index:idx_entries_account_recorded,priority:2"`
	Status            string         `gorm:"not null"`
	Source            string         `gorm:"not null"`
	Metadata          datatypes.JSON `gorm:"not null"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }

func (entry *WalletEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// PendingTransfer mirrors the pending_transfers table. ResolvedAtUnix stays 0
// while the provider confirmation is outstanding.
type PendingTransfer struct {
	TransferID      string `gorm:"primaryKey"`
	AccountID       string `gorm:"not null;index"`
	ExternalOrderID string `gorm:"not null;uniqueIndex"`
	Purpose         string `gorm:"not null"`
	AmountKobo      int64  `gorm:"not null"`
	CreatedAtUnix   int64  `gorm:"not null"`
	ResolvedAtUnix  int64  `gorm:"not null;default:0;index"`
}

func (PendingTransfer) TableName() string { return "pending_transfers" }
