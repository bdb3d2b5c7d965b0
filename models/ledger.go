package models

import "time"

// Ledger entry types.
const (
	EntryStreakReward     = "STREAK_REWARD"
	EntryMilestoneReward  = "MILESTONE_REWARD"
	EntryReferralReward   = "REFERRAL_REWARD"
	EntryReflectionReward = "REFLECTION_REWARD"
	EntryPurchaseDebit    = "PURCHASE_DEBIT"
)

// LedgerEntry is an immutable signed credit transaction.
// (UserID, RelatedID) is unique: it is the idempotency key for every grant.
type LedgerEntry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:ux_ledger_user_related,priority:1" json:"user_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Type      string    `gorm:"size:32;not null;index" json:"type"`
	RelatedID string    `gorm:"size:128;not null;uniqueIndex:ux_ledger_user_related,priority:2" json:"related_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
