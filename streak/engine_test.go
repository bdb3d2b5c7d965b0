package streak

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/models"
	"github.com/cppla/habitledger/testutil"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testutil.DB(t), testutil.Logger())
}

func bg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func TestRecordActivitySameDayIsIdempotent(t *testing.T) {
	e := newEngine(t)

	first, err := e.RecordActivity(bg(), "u1", models.CategoryPresence, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Before)
	assert.Equal(t, 1, first.After)

	for i := 0; i < 5; i++ {
		out, err := e.RecordActivity(bg(), "u1", models.CategoryPresence, "2024-01-01")
		require.NoError(t, err)
		assert.Equal(t, StepSameDay, out.Step)
		assert.Equal(t, 1, out.After)
	}

	snap, err := e.Snapshot(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Presence)
}

func TestRecordActivityGraceScenario(t *testing.T) {
	e := newEngine(t)
	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-06"} {
		_, err := e.RecordActivity(bg(), "u1", models.CategoryPresence, d)
		require.NoError(t, err)
	}

	out, err := e.RecordActivity(bg(), "u1", models.CategoryPresence, "2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, 6, out.Before)
	assert.Equal(t, 7, out.After)
	assert.True(t, out.GraceConsumed)
	assert.Equal(t, "2024-01-08", out.State.GracePeriodUsedAt)
}

func TestGraceTokenIsSharedAcrossCategories(t *testing.T) {
	e := newEngine(t)
	for _, c := range models.Categories {
		_, err := e.RecordActivity(bg(), "u1", c, "2024-01-01")
		require.NoError(t, err)
	}

	grace := 0
	for _, c := range models.Categories {
		out, err := e.RecordActivity(bg(), "u1", c, "2024-01-03")
		require.NoError(t, err)
		if out.GraceConsumed {
			grace++
			assert.Equal(t, 2, out.After)
		} else {
			assert.Equal(t, StepReset, out.Step)
			assert.Equal(t, 1, out.After)
		}
	}
	assert.Equal(t, 1, grace)

	// Still spent later on, for any category.
	_, err := e.RecordActivity(bg(), "u1", models.CategoryPresence, "2024-01-04")
	require.NoError(t, err)
	out, err := e.RecordActivity(bg(), "u1", models.CategoryPresence, "2024-01-06")
	require.NoError(t, err)
	assert.Equal(t, StepReset, out.Step)
}

func TestBackdatedEventNeverRewinds(t *testing.T) {
	e := newEngine(t)
	_, err := e.RecordActivity(bg(), "u1", models.CategoryResponse, "2024-01-05")
	require.NoError(t, err)

	out, err := e.RecordActivity(bg(), "u1", models.CategoryResponse, "2024-01-04")
	require.NoError(t, err)
	assert.Equal(t, StepBackdated, out.Step)

	st, err := e.State(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", st.ResponseLastActive)
	assert.Equal(t, 1, st.ResponseStreak)
}

func TestConcurrentSameDayEventsIncrementOnce(t *testing.T) {
	e := newEngine(t)
	_, err := e.RecordActivity(bg(), "u1", models.CategoryKindness, "2024-01-01")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordActivity(bg(), "u1", models.CategoryKindness, "2024-01-02")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := e.State(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.KindnessStreak)
}

func TestStoredNegativeStreakAbortsWithoutWriting(t *testing.T) {
	db := testutil.DB(t)
	e := NewEngine(db, testutil.Logger())
	require.NoError(t, db.Create(&models.StreakState{UserID: "u1", PresenceStreak: -3, PresenceLastActive: "2024-01-01"}).Error)

	_, err := e.RecordActivity(bg(), "u1", models.CategoryPresence, "2024-01-02")
	require.Error(t, err)
	assert.True(t, apperr.IsInvariant(err))

	st, err := e.State(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, -3, st.PresenceStreak)
	assert.Equal(t, "2024-01-01", st.PresenceLastActive)
}

func TestSnapshotUnknownUser(t *testing.T) {
	e := newEngine(t)
	snap, err := e.Snapshot(bg(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Presence)
	assert.Empty(t, snap.LastActiveDates)
}
