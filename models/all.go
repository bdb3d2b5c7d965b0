package models

// All lists every persisted model for auto-migration.
func All() []interface{} {
	return []interface{}{
		&StreakState{},
		&MilestoneProgress{},
		&LedgerEntry{},
		&OtpAttempt{},
	}
}
