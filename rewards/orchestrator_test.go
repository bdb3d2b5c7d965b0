package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/clock"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/ledger"
	"github.com/cppla/habitledger/milestone"
	"github.com/cppla/habitledger/models"
	"github.com/cppla/habitledger/streak"
	"github.com/cppla/habitledger/testutil"
)

type harness struct {
	o       *Orchestrator
	db      *gorm.DB
	ledger  *ledger.Ledger
	tracker *milestone.Tracker
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StreakRewardCredits = 50
	cfg.ReflectionRewardCredits = 10
	cfg.ReferralRewardCredits = 100
	cfg.Retry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	return cfg
}

func testCatalog(t *testing.T) *milestone.Catalog {
	t.Helper()
	c, err := milestone.NewCatalog([]milestone.Definition{
		{ID: "presence_7", DisplayName: "Week", RequiredProgress: 7, RewardCredits: 100, Category: models.CategoryPresence},
		{ID: "kindness_3", DisplayName: "Kind", RequiredProgress: 3, RewardCredits: 30, Category: models.CategoryKindness},
	})
	require.NoError(t, err)
	return c
}

func build(t *testing.T, db *gorm.DB) harness {
	t.Helper()
	log := testutil.Logger()
	l := ledger.New(db, log)
	tr := milestone.NewTracker(db, testCatalog(t), log)
	clk := clock.NewMock(time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC))
	o := New(db, streak.NewEngine(db, log), tr, l, clk, testConfig(), log)
	return harness{o: o, db: db, ledger: l, tracker: tr}
}

func newHarness(t *testing.T) harness {
	t.Helper()
	return build(t, testutil.DB(t))
}

func bg() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func days(from string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		d, _ := clock.AddDays(from, i)
		out = append(out, d)
	}
	return out
}

func (h harness) activity(t *testing.T, user, category string, ds ...string) Outcome {
	t.Helper()
	var last Outcome
	for _, d := range ds {
		out, err := h.o.HandleActivity(context.Background(), ActivityEvent{UserID: user, Category: category, LocalDay: d})
		require.NoError(t, err, d)
		last = out
	}
	return last
}

func (h harness) entries(t *testing.T, user, entryType string) []models.LedgerEntry {
	t.Helper()
	var rows []models.LedgerEntry
	require.NoError(t, h.db.Where("user_id = ? AND type = ?", user, entryType).Find(&rows).Error)
	return rows
}

func TestSeventhDayPaysStreakAndMilestoneOnce(t *testing.T) {
	h := newHarness(t)
	out := h.activity(t, "u1", models.CategoryPresence, days("2024-01-01", 7)...)

	assert.Equal(t, 7, out.Streak.After)
	require.NotNil(t, out.StreakReward)
	assert.False(t, out.StreakReward.AlreadyGranted)
	assert.Equal(t, "STREAK_REWARD_PRESENCE_7", out.StreakReward.Entry.RelatedID)
	require.Len(t, out.Milestones, 1)
	require.NotNil(t, out.Milestones[0].Grant)
	assert.Equal(t, models.MilestoneClaimed, out.Milestones[0].Progress.Status)

	// Duplicate delivery of the seventh day.
	replay := h.activity(t, "u1", models.CategoryPresence, "2024-01-07")
	require.NotNil(t, replay.StreakReward)
	assert.True(t, replay.StreakReward.AlreadyGranted)
	assert.Nil(t, replay.Milestones[0].Grant)

	bal, err := h.ledger.Balance(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal)
	assert.Len(t, h.entries(t, "u1", models.EntryStreakReward), 1)
	assert.Len(t, h.entries(t, "u1", models.EntryMilestoneReward), 1)
}

func TestGraceDayCrossesTier(t *testing.T) {
	h := newHarness(t)
	h.activity(t, "u1", models.CategoryPresence, days("2024-01-01", 6)...)

	out := h.activity(t, "u1", models.CategoryPresence, "2024-01-08")
	assert.Equal(t, 7, out.Streak.After)
	assert.True(t, out.Streak.GraceConsumed)
	require.NotNil(t, out.StreakReward)
	assert.Equal(t, "STREAK_REWARD_PRESENCE_7", out.StreakReward.Entry.RelatedID)
}

func TestBackdatedEventPaysNothing(t *testing.T) {
	h := newHarness(t)
	h.activity(t, "u1", models.CategoryPresence, days("2024-01-01", 7)...)

	out := h.activity(t, "u1", models.CategoryPresence, "2024-01-03")
	assert.Equal(t, streak.StepBackdated, out.Streak.Step)
	assert.Nil(t, out.StreakReward)
	assert.Len(t, h.entries(t, "u1", models.EntryStreakReward), 1)
}

func TestConcurrentSixToSevenClaimsOnce(t *testing.T) {
	h := newHarness(t)
	h.activity(t, "u1", models.CategoryPresence, days("2024-01-01", 6)...)

	p, err := h.tracker.Progress(bg(), "u1", "presence_7")
	require.NoError(t, err)
	require.Equal(t, 6, p.Progress)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.o.HandleActivity(context.Background(), ActivityEvent{UserID: "u1", Category: models.CategoryPresence, LocalDay: "2024-01-07"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err = h.tracker.Progress(bg(), "u1", "presence_7")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneClaimed, p.Status)
	assert.Len(t, h.entries(t, "u1", models.EntryMilestoneReward), 1)
	assert.Len(t, h.entries(t, "u1", models.EntryStreakReward), 1)
}

func TestClaimMilestone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.o.ClaimMilestone(ctx, "u1", "kindness_3", "2024-01-01", "")
	assert.ErrorIs(t, err, apperr.ErrNotEligible)

	_, err = h.o.ClaimMilestone(ctx, "u1", "ghost", "2024-01-01", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Auto-claimed on the third kindness day.
	h.activity(t, "u1", models.CategoryKindness, days("2024-01-01", 3)...)
	_, err = h.o.ClaimMilestone(ctx, "u1", "kindness_3", "2024-01-03", "")
	assert.ErrorIs(t, err, apperr.ErrAlreadyClaimed)

	bal, err := h.ledger.Balance(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)
}

func TestReflectionOncePerWeek(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.o.GrantReflection(ctx, "u1", "2024-01-08", "")
	require.NoError(t, err)
	assert.Equal(t, "REFLECTION_2024-W02", first.Entry.RelatedID)

	same, err := h.o.GrantReflection(ctx, "u1", "2024-01-14", "")
	require.NoError(t, err)
	assert.True(t, same.AlreadyGranted)

	next, err := h.o.GrantReflection(ctx, "u1", "2024-01-15", "")
	require.NoError(t, err)
	assert.False(t, next.AlreadyGranted)

	// Empty day falls back to the clock's local day.
	today, err := h.o.GrantReflection(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.True(t, today.AlreadyGranted)
}

func TestEmptyDayUsesEventTimezone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 2024-01-08T12:00Z is already the 9th in Kiritimati (UTC+14) and still
	// the 8th in Honolulu (UTC-10).
	east, err := h.o.HandleActivity(ctx, ActivityEvent{UserID: "u1", Category: models.CategoryPresence, Timezone: "Pacific/Kiritimati"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-09", east.Event.LocalDay)

	west, err := h.o.HandleActivity(ctx, ActivityEvent{UserID: "u2", Category: models.CategoryPresence, Timezone: "Pacific/Honolulu"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08", west.Event.LocalDay)

	// An explicit day wins over the zone.
	pinned, err := h.o.HandleActivity(ctx, ActivityEvent{UserID: "u3", Category: models.CategoryPresence, LocalDay: "2024-01-05", Timezone: "Pacific/Kiritimati"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", pinned.Event.LocalDay)

	_, err = h.o.HandleActivity(ctx, ActivityEvent{UserID: "u1", Category: models.CategoryPresence, Timezone: "Mars/Olympus_Mons"})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	// 11:00Z on Sunday the 14th is already Monday in Kiritimati: ISO week 3.
	h.o.clock.(*clock.Mock).Set(time.Date(2024, 1, 14, 11, 0, 0, 0, time.UTC))
	res, err := h.o.GrantReflection(ctx, "u1", "", "Pacific/Kiritimati")
	require.NoError(t, err)
	assert.Equal(t, "REFLECTION_2024-W03", res.Entry.RelatedID)
	res, err = h.o.GrantReflection(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "REFLECTION_2024-W02", res.Entry.RelatedID)
}

func TestReferral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.o.GrantReferral(ctx, "u1", "u1")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	res, err := h.o.GrantReferral(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Entry.Amount)

	res, err = h.o.GrantReferral(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, res.AlreadyGranted)
}

func TestPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.o.Purchase(ctx, "u1", 10, "tx-1")
	assert.ErrorIs(t, err, apperr.ErrInsufficientCredits)

	_, err = h.o.GrantReferral(ctx, "u1", "u2")
	require.NoError(t, err)
	res, err := h.o.Purchase(ctx, "u1", 60, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-60), res.Entry.Amount)

	bal, err := h.ledger.Balance(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal)
}

func TestHandleActivityRejectsBadEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, ev := range []ActivityEvent{
		{Category: models.CategoryPresence, LocalDay: "2024-01-01"},
		{UserID: "u1", Category: "gratitude", LocalDay: "2024-01-01"},
		{UserID: "u1", Category: models.CategoryPresence, LocalDay: "Jan 1"},
	} {
		_, err := h.o.HandleActivity(ctx, ev)
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest, "%+v", ev)
	}
}

func TestHandleBatchKeepsOrderAndIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	events := []ActivityEvent{
		{UserID: "u1", Category: models.CategoryPresence, LocalDay: "2024-01-01"},
		{UserID: "u2", Category: "bogus", LocalDay: "2024-01-01"},
		{UserID: "u3", Category: models.CategoryResponse, LocalDay: "2024-01-01"},
	}
	results := h.o.HandleBatch(context.Background(), events)
	require.Len(t, results, 3)

	assert.False(t, results[0].Failed())
	assert.Equal(t, "u1", results[0].Outcome.Event.UserID)
	assert.True(t, results[1].Failed())
	assert.Equal(t, apperr.CodeInvalidRequest, results[1].Error.Code)
	assert.False(t, results[2].Failed())
	assert.Equal(t, 1, results[2].Outcome.Streak.After)
}

func TestPolicyErrorsAreNotRetried(t *testing.T) {
	h := newHarness(t)
	calls := 0
	err := h.o.run(context.Background(), "test", func(dbctx.Context) error {
		calls++
		return apperr.ErrNotEligible
	})
	assert.ErrorIs(t, err, apperr.ErrNotEligible)
	assert.Equal(t, 1, calls)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	calls := 0
	err := h.o.run(context.Background(), "test", func(dbctx.Context) error {
		calls++
		if calls < 3 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTimeoutsLogAtWarn(t *testing.T) {
	h := newHarness(t)
	core, logs := observer.New(zapcore.WarnLevel)
	h.o.log = zap.New(core)

	err := h.o.run(context.Background(), "test", func(dbctx.Context) error {
		return fmt.Errorf("select streak: %w", context.DeadlineExceeded)
	})
	require.Error(t, err)
	assert.True(t, apperr.IsTimeout(err))
	assert.Equal(t, 1, logs.FilterMessage("reward operation timed out").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	err = h.o.run(context.Background(), "test", func(dbctx.Context) error {
		return apperr.Invariant("negative balance")
	})
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("reward operation failed").Len())
}

func TestRetryExhaustionSurfacesRetriableServerError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	unavailable := errors.New("dial tcp 10.0.0.5:3306: connect: connection refused")
	for i := 0; i < 3; i++ {
		mock.ExpectBegin().WillReturnError(unavailable)
	}

	h := build(t, gdb)
	_, err = h.o.HandleActivity(context.Background(), ActivityEvent{UserID: "u1", Category: models.CategoryPresence, LocalDay: "2024-01-01"})
	require.Error(t, err)

	ae := apperr.From(err)
	assert.Equal(t, apperr.CodeServerError, ae.Code)
	assert.True(t, ae.Retriable)
	assert.ErrorIs(t, err, unavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
