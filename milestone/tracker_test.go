package milestone

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/models"
	"github.com/cppla/habitledger/testutil"
)

func bg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]Definition{
		{ID: "presence_7", DisplayName: "Week", RequiredProgress: 7, RewardCredits: 50, Category: models.CategoryPresence},
		{ID: "winter", DisplayName: "Winter", RequiredProgress: 2, RewardCredits: 20, Category: models.CategoryKindness, StartDate: "2024-01-01", EndDate: "2024-01-31"},
	})
	require.NoError(t, err)
	return c
}

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(testutil.DB(t), testCatalog(t), testutil.Logger())
}

func TestAdvanceProgressTransitions(t *testing.T) {
	tr := newTracker(t)

	p, err := tr.Progress(bg(), "u1", "presence_7")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneLocked, p.Status)

	p, err = tr.AdvanceProgress(bg(), "u1", "presence_7", 1)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneInProgress, p.Status)
	assert.Equal(t, 1, p.Progress)

	p, err = tr.AdvanceProgress(bg(), "u1", "presence_7", 100)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Progress, "clamped at required")
}

func TestAdvanceUnknownMilestoneIsInvariant(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.AdvanceProgress(bg(), "u1", "nope", 1)
	require.Error(t, err)
	assert.True(t, apperr.IsInvariant(err))
}

func TestClaim(t *testing.T) {
	tr := newTracker(t)

	_, err := tr.Claim(bg(), "u1", "presence_7", "2024-01-10")
	assert.ErrorIs(t, err, apperr.ErrNotEligible)

	_, err = tr.AdvanceProgress(bg(), "u1", "presence_7", 7)
	require.NoError(t, err)

	g, err := tr.Claim(bg(), "u1", "presence_7", "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, int64(50), g.Amount)
	assert.Equal(t, "MILESTONE_presence_7", g.RelatedID)
	assert.Equal(t, models.EntryMilestoneReward, g.Type)

	_, err = tr.Claim(bg(), "u1", "presence_7", "2024-01-10")
	assert.ErrorIs(t, err, apperr.ErrAlreadyClaimed)

	// Terminal: further progress is ignored.
	p, err := tr.AdvanceProgress(bg(), "u1", "presence_7", 1)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneClaimed, p.Status)
	assert.NotNil(t, p.ClaimedAt)
}

func TestClaimOutsideWindowIsExpired(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.AdvanceProgress(bg(), "u1", "winter", 2)
	require.NoError(t, err)

	_, err = tr.Claim(bg(), "u1", "winter", "2024-02-01")
	assert.ErrorIs(t, err, apperr.ErrExpired)

	// Failed claims leave the row untouched.
	p, err := tr.Progress(bg(), "u1", "winter")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneInProgress, p.Status)

	_, err = tr.Claim(bg(), "u1", "winter", "2024-01-31")
	assert.NoError(t, err)
}

func TestClaimUnknownMilestoneIsNotFound(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Claim(bg(), "u1", "ghost", "2024-01-10")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStatusesCoverWholeCatalog(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.AdvanceProgress(bg(), "u1", "winter", 1)
	require.NoError(t, err)

	views, err := tr.Statuses(bg(), "u1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "presence_7", views[0].ID)
	assert.Equal(t, models.MilestoneLocked, views[0].Status)
	assert.Equal(t, "winter", views[1].ID)
	assert.Equal(t, 1, views[1].Progress)
	assert.Equal(t, models.MilestoneInProgress, views[1].Status)
}

func TestForCategoryHonoursWindow(t *testing.T) {
	tr := newTracker(t)
	assert.Len(t, tr.ForCategory(models.CategoryKindness, "2024-01-15"), 1)
	assert.Empty(t, tr.ForCategory(models.CategoryKindness, "2024-03-01"))
	assert.Len(t, tr.ForCategory(models.CategoryPresence, "2030-01-01"), 1)
}
