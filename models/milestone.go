package models

import "time"

// Milestone progress statuses. LOCKED is implied by a missing row.
const (
	MilestoneLocked     = "LOCKED"
	MilestoneInProgress = "IN_PROGRESS"
	MilestoneClaimed    = "CLAIMED"
)

// MilestoneProgress is one user's progress toward one milestone definition.
type MilestoneProgress struct {
	UserID      string     `gorm:"primaryKey;size:64" json:"user_id"`
	MilestoneID string     `gorm:"primaryKey;size:64" json:"milestone_id"`
	Progress    int        `gorm:"not null;default:0" json:"progress"`
	Status      string     `gorm:"size:16;not null;default:'LOCKED'" json:"status"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (MilestoneProgress) TableName() string { return "milestone_progress" }
