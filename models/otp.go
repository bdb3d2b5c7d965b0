package models

import "time"

// OtpAttempt is the transient throttle state for one phone number.
// CodeHash holds the bcrypt hash of the currently issued code.
type OtpAttempt struct {
	Phone           string     `gorm:"primaryKey;size:32" json:"phone"`
	AttemptCount    int        `gorm:"not null;default:0" json:"attempt_count"`
	WindowStartedAt *time.Time `json:"window_started_at,omitempty"`
	LockedUntil     *time.Time `gorm:"index" json:"locked_until,omitempty"`
	LastRequestAt   *time.Time `json:"last_request_at,omitempty"`
	CodeHash        string     `gorm:"size:100;not null;default:''" json:"-"`
	CodeExpiresAt   *time.Time `json:"-"`
	UpdatedAt       time.Time  `gorm:"index" json:"updated_at"`
}

func (OtpAttempt) TableName() string { return "otp_attempts" }
