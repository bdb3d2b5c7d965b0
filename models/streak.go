package models

import "time"

// Streak categories. Values are stored lowercase; relatedIds use the upper form.
const (
	CategoryPresence = "presence"
	CategoryKindness = "kindness"
	CategoryResponse = "response"
)

// Categories lists every streak category in a stable order.
var Categories = []string{CategoryPresence, CategoryKindness, CategoryResponse}

// ValidCategory reports whether c names a streak category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryPresence, CategoryKindness, CategoryResponse:
		return true
	}
	return false
}

// StreakState holds one user's three day-granular streak counters.
// Days are local calendar days (YYYY-MM-DD); empty means never active.
// GracePeriodUsedAt is the day the single lifetime grace token was spent.
type StreakState struct {
	UserID             string    `gorm:"primaryKey;size:64" json:"user_id"`
	PresenceStreak     int       `gorm:"not null;default:0" json:"presence_streak"`
	KindnessStreak     int       `gorm:"not null;default:0" json:"kindness_streak"`
	ResponseStreak     int       `gorm:"not null;default:0" json:"response_streak"`
	PresenceLastActive string    `gorm:"size:10;not null;default:''" json:"presence_last_active"`
	KindnessLastActive string    `gorm:"size:10;not null;default:''" json:"kindness_last_active"`
	ResponseLastActive string    `gorm:"size:10;not null;default:''" json:"response_last_active"`
	GracePeriodUsedAt  string    `gorm:"size:10;not null;default:''" json:"grace_period_used_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName pins the table name used by raw queries and migrations.
func (StreakState) TableName() string { return "streak_states" }

// Count returns the streak counter for category.
func (s *StreakState) Count(category string) int {
	switch category {
	case CategoryPresence:
		return s.PresenceStreak
	case CategoryKindness:
		return s.KindnessStreak
	case CategoryResponse:
		return s.ResponseStreak
	}
	return 0
}

// LastActive returns the last active day for category.
func (s *StreakState) LastActive(category string) string {
	switch category {
	case CategoryPresence:
		return s.PresenceLastActive
	case CategoryKindness:
		return s.KindnessLastActive
	case CategoryResponse:
		return s.ResponseLastActive
	}
	return ""
}

// Set writes both the counter and last active day for category.
func (s *StreakState) Set(category string, count int, day string) {
	switch category {
	case CategoryPresence:
		s.PresenceStreak, s.PresenceLastActive = count, day
	case CategoryKindness:
		s.KindnessStreak, s.KindnessLastActive = count, day
	case CategoryResponse:
		s.ResponseStreak, s.ResponseLastActive = count, day
	}
}

// GraceUsed reports whether the lifetime grace token is spent.
func (s *StreakState) GraceUsed() bool { return s.GracePeriodUsedAt != "" }
