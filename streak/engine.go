// Package streak turns daily activity into per-category streak counters.
package streak

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/models"
)

// Outcome describes one RecordActivity call. Callers diff Before and After
// to detect reward tier crossings.
type Outcome struct {
	Category      string             `json:"category"`
	Day           string             `json:"day"`
	Before        int                `json:"before"`
	After         int                `json:"after"`
	Step          Step               `json:"step"`
	GraceConsumed bool               `json:"grace_consumed"`
	State         models.StreakState `json:"state"`
}

// Changed reports whether the call moved the counter or its day.
func (o Outcome) Changed() bool { return o.Step.Changed() }

// Snapshot is the read projection handed to the UI.
type Snapshot struct {
	UserID            string            `json:"user_id"`
	Presence          int               `json:"presence"`
	Kindness          int               `json:"kindness"`
	Response          int               `json:"response"`
	LastActiveDates   map[string]string `json:"last_active_dates"`
	GracePeriodUsedAt string            `json:"grace_period_used_at,omitempty"`
}

// Engine owns the streak_states table.
type Engine struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(db *gorm.DB, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{db: db, log: log.Named("streak")}
}

// RecordActivity applies one activity for userID on the local day.
// The row is locked for the duration of the transaction, so concurrent events
// for the same user serialize; other users proceed in parallel.
func (e *Engine) RecordActivity(dbc dbctx.Context, userID, category, day string) (Outcome, error) {
	if userID == "" {
		return Outcome{}, apperr.InvalidRequest("missing user id")
	}
	if dbc.InTx() {
		return e.record(dbc.DB(e.db), userID, category, day)
	}
	var out Outcome
	err := dbc.DB(e.db).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = e.record(tx, userID, category, day)
		return err
	})
	return out, err
}

func (e *Engine) record(tx *gorm.DB, userID, category, day string) (Outcome, error) {
	state, err := lockState(tx, userID)
	if err != nil {
		return Outcome{}, err
	}

	next, step, err := Advance(*state, category, day)
	if err != nil {
		if apperr.IsInvariant(err) {
			e.log.Error("streak invariant violated",
				zap.String("user_id", userID),
				zap.String("category", category),
				zap.String("day", day),
				zap.Any("state", state),
				zap.Error(err))
		}
		return Outcome{}, err
	}

	out := Outcome{
		Category:      category,
		Day:           day,
		Before:        state.Count(category),
		After:         next.Count(category),
		Step:          step,
		GraceConsumed: step == StepGrace,
		State:         next,
	}
	if !step.Changed() {
		return out, nil
	}
	if err := tx.Save(&next).Error; err != nil {
		return Outcome{}, err
	}
	out.State = next
	e.log.Debug("streak advanced",
		zap.String("user_id", userID),
		zap.String("category", category),
		zap.String("day", day),
		zap.String("step", string(step)),
		zap.Int("before", out.Before),
		zap.Int("after", out.After))
	return out, nil
}

// lockState creates the row if missing, then selects it FOR UPDATE.
func lockState(tx *gorm.DB, userID string) (*models.StreakState, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.StreakState{UserID: userID}).Error; err != nil {
		return nil, err
	}
	var state models.StreakState
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// State returns the stored state, or a zero state for unknown users.
func (e *Engine) State(dbc dbctx.Context, userID string) (models.StreakState, error) {
	var state models.StreakState
	err := dbc.DB(e.db).Where("user_id = ?", userID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StreakState{UserID: userID}, nil
	}
	return state, err
}

// Snapshot returns the UI projection for userID.
func (e *Engine) Snapshot(dbc dbctx.Context, userID string) (Snapshot, error) {
	state, err := e.State(dbc, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotOf(state), nil
}

// SnapshotOf projects a stored state.
func SnapshotOf(state models.StreakState) Snapshot {
	last := make(map[string]string, len(models.Categories))
	for _, c := range models.Categories {
		if d := state.LastActive(c); d != "" {
			last[c] = d
		}
	}
	return Snapshot{
		UserID:            state.UserID,
		Presence:          state.PresenceStreak,
		Kindness:          state.KindnessStreak,
		Response:          state.ResponseStreak,
		LastActiveDates:   last,
		GracePeriodUsedAt: state.GracePeriodUsedAt,
	}
}
