// Package rewards composes the streak engine, the milestone tracker and the
// credit ledger. Every event runs in a single transaction, so a retried or
// re-delivered event either finds its ledger entries already written or
// writes them exactly once.
package rewards

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/clock"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/ledger"
	"github.com/cppla/habitledger/milestone"
	"github.com/cppla/habitledger/models"
	"github.com/cppla/habitledger/streak"
)

// Config holds reward amounts and execution limits.
type Config struct {
	StreakRewardEvery       int
	StreakRewardCredits     int64
	ReflectionRewardCredits int64
	ReferralRewardCredits   int64
	// Timezone resolves the local day of events that carry none.
	Timezone         string
	StoreTimeout     time.Duration
	Retry            RetryPolicy
	BatchConcurrency int
}

func DefaultConfig() Config {
	return Config{
		StreakRewardEvery:       7,
		StreakRewardCredits:     50,
		ReflectionRewardCredits: 10,
		ReferralRewardCredits:   100,
		Timezone:                "UTC",
		StoreTimeout:            5 * time.Second,
		Retry:                   DefaultRetryPolicy(),
		BatchConcurrency:        8,
	}
}

// ActivityEvent says userID was active in Category on LocalDay. Without a
// LocalDay the day is taken from the clock in Timezone, or in the configured
// zone when Timezone is empty too.
type ActivityEvent struct {
	UserID   string `json:"user_id"`
	Category string `json:"category"`
	LocalDay string `json:"local_day"`
	Timezone string `json:"timezone,omitempty"`
}

// MilestoneResult reports what one event did to one milestone.
type MilestoneResult struct {
	MilestoneID string                   `json:"milestone_id"`
	Progress    models.MilestoneProgress `json:"progress"`
	Grant       *ledger.GrantResult      `json:"grant,omitempty"`
}

// Outcome is the result of HandleActivity.
type Outcome struct {
	Event        ActivityEvent       `json:"event"`
	Streak       streak.Outcome      `json:"streak"`
	StreakReward *ledger.GrantResult `json:"streak_reward,omitempty"`
	Milestones   []MilestoneResult   `json:"milestones,omitempty"`
}

type Orchestrator struct {
	db         *gorm.DB
	streaks    *streak.Engine
	milestones *milestone.Tracker
	ledger     *ledger.Ledger
	clock      clock.Clock
	cfg        Config
	log        *zap.Logger
}

func New(db *gorm.DB, streaks *streak.Engine, milestones *milestone.Tracker, l *ledger.Ledger, clk clock.Clock, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	d := DefaultConfig()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = d.Retry
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = d.BatchConcurrency
	}
	return &Orchestrator{
		db:         db,
		streaks:    streaks,
		milestones: milestones,
		ledger:     l,
		clock:      clk,
		cfg:        cfg,
		log:        log.Named("rewards"),
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Today returns the current local day in tz. An empty tz uses the configured
// zone; an unknown one is REQ_001.
func (o *Orchestrator) Today(tz string) (string, error) {
	if tz == "" {
		day, err := clock.Today(o.clock, o.cfg.Timezone)
		if err != nil {
			return "", apperr.Invariant("resolve local day: %v", err)
		}
		return day, nil
	}
	day, err := clock.LocalDay(o.clock.Now(), tz)
	if err != nil {
		return "", apperr.InvalidRequest("unknown timezone %q", tz)
	}
	return day, nil
}

func (o *Orchestrator) resolveDay(day, tz string) (string, error) {
	if day == "" {
		return o.Today(tz)
	}
	if _, err := clock.ParseDay(day); err != nil {
		return "", apperr.InvalidRequest("invalid day %q", day)
	}
	return day, nil
}

// HandleActivity applies one activity event: streak step, streak tier reward,
// then progress and auto-claim for every active milestone of the category.
func (o *Orchestrator) HandleActivity(ctx context.Context, ev ActivityEvent) (Outcome, error) {
	if ev.UserID == "" {
		return Outcome{}, apperr.InvalidRequest("missing user id")
	}
	if !models.ValidCategory(ev.Category) {
		return Outcome{}, apperr.InvalidRequest("unknown category %q", ev.Category)
	}
	day, err := o.resolveDay(ev.LocalDay, ev.Timezone)
	if err != nil {
		return Outcome{}, err
	}
	ev.LocalDay = day

	var out Outcome
	err = o.run(ctx, "activity", func(dbc dbctx.Context) error {
		out = Outcome{Event: ev}
		so, err := o.streaks.RecordActivity(dbc, ev.UserID, ev.Category, day)
		if err != nil {
			return err
		}
		out.Streak = so

		if out.StreakReward, err = o.streakReward(dbc, ev, so); err != nil {
			return err
		}

		for _, def := range o.milestones.ForCategory(ev.Category, day) {
			mr, err := o.advanceMilestone(dbc, ev, def, so.Changed())
			if err != nil {
				return err
			}
			out.Milestones = append(out.Milestones, mr)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// streakReward grants the tier reward when the counter sits on a multiple of
// StreakRewardEvery and was reached on the event's day. Same-day replays
// land here too and resolve to the existing entry.
func (o *Orchestrator) streakReward(dbc dbctx.Context, ev ActivityEvent, so streak.Outcome) (*ledger.GrantResult, error) {
	every := o.cfg.StreakRewardEvery
	if every <= 0 || o.cfg.StreakRewardCredits <= 0 {
		return nil, nil
	}
	if so.After <= 0 || so.After%every != 0 || so.State.LastActive(ev.Category) != ev.LocalDay {
		return nil, nil
	}
	res, err := o.ledger.Grant(dbc, ledger.Grant{
		UserID:    ev.UserID,
		Amount:    o.cfg.StreakRewardCredits,
		Type:      models.EntryStreakReward,
		RelatedID: ledger.StreakRewardKey(ev.Category, so.After),
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (o *Orchestrator) advanceMilestone(dbc dbctx.Context, ev ActivityEvent, def milestone.Definition, moved bool) (MilestoneResult, error) {
	mr := MilestoneResult{MilestoneID: def.ID}
	var (
		p   models.MilestoneProgress
		err error
	)
	if moved {
		p, err = o.milestones.AdvanceProgress(dbc, ev.UserID, def.ID, 1)
	} else {
		p, err = o.milestones.Progress(dbc, ev.UserID, def.ID)
	}
	if err != nil {
		return mr, err
	}
	mr.Progress = p
	if p.Status == models.MilestoneClaimed || p.Progress < def.RequiredProgress {
		return mr, nil
	}

	pending, err := o.milestones.Claim(dbc, ev.UserID, def.ID, ev.LocalDay)
	if err != nil {
		return mr, err
	}
	res, err := o.ledger.Grant(dbc, pending.Grant())
	if err != nil {
		return mr, err
	}
	mr.Grant = &res
	mr.Progress.Status = models.MilestoneClaimed
	return mr, nil
}

// ClaimMilestone claims a milestone and writes its credit atomically. day and
// tz resolve as for ActivityEvent.
func (o *Orchestrator) ClaimMilestone(ctx context.Context, userID, milestoneID, day, tz string) (ledger.GrantResult, error) {
	day, err := o.resolveDay(day, tz)
	if err != nil {
		return ledger.GrantResult{}, err
	}
	var out ledger.GrantResult
	err = o.run(ctx, "milestone_claim", func(dbc dbctx.Context) error {
		pending, err := o.milestones.Claim(dbc, userID, milestoneID, day)
		if err != nil {
			return err
		}
		out, err = o.ledger.Grant(dbc, pending.Grant())
		return err
	})
	return out, err
}

// GrantReflection pays the weekly reflection reward once per ISO week.
func (o *Orchestrator) GrantReflection(ctx context.Context, userID, day, tz string) (ledger.GrantResult, error) {
	day, err := o.resolveDay(day, tz)
	if err != nil {
		return ledger.GrantResult{}, err
	}
	week, err := clock.ISOWeek(day)
	if err != nil {
		return ledger.GrantResult{}, apperr.InvalidRequest("invalid day %q", day)
	}
	return o.grant(ctx, "reflection", ledger.Grant{
		UserID:    userID,
		Amount:    o.cfg.ReflectionRewardCredits,
		Type:      models.EntryReflectionReward,
		RelatedID: ledger.ReflectionKey(week),
	})
}

// GrantReferral pays referrerID once for referredUserID.
func (o *Orchestrator) GrantReferral(ctx context.Context, referrerID, referredUserID string) (ledger.GrantResult, error) {
	if referredUserID == "" || referrerID == referredUserID {
		return ledger.GrantResult{}, apperr.InvalidRequest("invalid referral")
	}
	return o.grant(ctx, "referral", ledger.Grant{
		UserID:    referrerID,
		Amount:    o.cfg.ReferralRewardCredits,
		Type:      models.EntryReferralReward,
		RelatedID: ledger.ReferralKey(referredUserID),
	})
}

// Purchase records a debit keyed by the caller's transaction id.
func (o *Orchestrator) Purchase(ctx context.Context, userID string, amount int64, txID string) (ledger.GrantResult, error) {
	var out ledger.GrantResult
	err := o.run(ctx, "purchase", func(dbc dbctx.Context) error {
		var err error
		out, err = o.ledger.Debit(dbc, userID, amount, txID)
		return err
	})
	return out, err
}

func (o *Orchestrator) grant(ctx context.Context, kind string, g ledger.Grant) (ledger.GrantResult, error) {
	var out ledger.GrantResult
	err := o.run(ctx, kind, func(dbc dbctx.Context) error {
		var err error
		out, err = o.ledger.Grant(dbc, g)
		return err
	})
	return out, err
}
