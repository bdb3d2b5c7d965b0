package ledger

import (
	"fmt"
	"strings"
)

// RelatedID formats. These strings are persisted as idempotency keys, so any
// change here double-pays or blocks users; add a new prefix instead.
const (
	prefixStreak     = "STREAK_REWARD_"
	prefixMilestone  = "MILESTONE_"
	prefixReflection = "REFLECTION_"
	prefixPurchase   = "PURCHASE_"
	prefixReferral   = "REFERRAL_"
)

// StreakRewardKey keys the reward for reaching count in category.
func StreakRewardKey(category string, count int) string {
	return fmt.Sprintf("%s%s_%d", prefixStreak, strings.ToUpper(category), count)
}

// MilestoneKey keys the one-time reward of a milestone.
func MilestoneKey(milestoneID string) string {
	return prefixMilestone + milestoneID
}

// ReflectionKey keys the weekly reflection reward, week as "2024-W02".
func ReflectionKey(isoWeek string) string {
	return prefixReflection + isoWeek
}

// PurchaseKey keys a debit by the caller's transaction id.
func PurchaseKey(txID string) string {
	return prefixPurchase + txID
}

// ReferralKey keys the reward for referring referredUserID.
func ReferralKey(referredUserID string) string {
	return prefixReferral + referredUserID
}
