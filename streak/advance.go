package streak

import (
	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/clock"
	"github.com/cppla/habitledger/models"
)

// Step names which rule Advance applied.
type Step string

const (
	StepFirst     Step = "first"
	StepSameDay   Step = "same_day"
	StepNextDay   Step = "next_day"
	StepGrace     Step = "grace"
	StepReset     Step = "reset"
	StepBackdated Step = "backdated"
)

// graceGap is the only gap the grace token can bridge: exactly one missed day.
const graceGap = 2

// Advance applies one activity on day to category and returns the next state.
// It is pure; state is copied, never mutated.
func Advance(state models.StreakState, category, day string) (models.StreakState, Step, error) {
	if !models.ValidCategory(category) {
		return state, "", apperr.InvalidRequest("unknown category %q", category)
	}
	if _, err := clock.ParseDay(day); err != nil {
		return state, "", apperr.InvalidRequest("invalid day %q", day)
	}
	if err := checkInvariants(&state); err != nil {
		return state, "", err
	}

	next := state
	count := state.Count(category)
	last := state.LastActive(category)

	if last == "" {
		next.Set(category, 1, day)
		return next, StepFirst, nil
	}

	gap, err := clock.DaysBetween(last, day)
	if err != nil {
		return state, "", apperr.Invariant("stored day %q for %s/%s: %v", last, state.UserID, category, err)
	}

	switch {
	case gap < 0:
		return state, StepBackdated, nil
	case gap == 0:
		return state, StepSameDay, nil
	case gap == 1:
		next.Set(category, count+1, day)
		return next, StepNextDay, nil
	case gap == graceGap && !state.GraceUsed():
		next.Set(category, count+1, day)
		next.GracePeriodUsedAt = day
		return next, StepGrace, nil
	default:
		next.Set(category, 1, day)
		return next, StepReset, nil
	}
}

// Changed reports whether a step mutates state.
func (s Step) Changed() bool {
	return s != StepSameDay && s != StepBackdated
}

func checkInvariants(s *models.StreakState) error {
	for _, c := range models.Categories {
		n := s.Count(c)
		if n < 0 {
			return apperr.Invariant("negative %s streak %d for user %s", c, n, s.UserID)
		}
		if n > 0 && s.LastActive(c) == "" {
			return apperr.Invariant("%s streak %d without last active day for user %s", c, n, s.UserID)
		}
	}
	return nil
}
