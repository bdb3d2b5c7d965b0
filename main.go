package main

import (
	"time"

	"github.com/cppla/habitledger/clock"
	"github.com/cppla/habitledger/config"
	"github.com/cppla/habitledger/ledger"
	"github.com/cppla/habitledger/milestone"
	"github.com/cppla/habitledger/models"
	"github.com/cppla/habitledger/otp"
	"github.com/cppla/habitledger/rewards"
	"github.com/cppla/habitledger/routes"
	"github.com/cppla/habitledger/streak"
	"github.com/cppla/habitledger/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync()

	db := config.InitDatabase(models.All()...)
	log := utils.Logger

	catalog, err := milestone.LoadCatalog(cfg.MilestonesPath)
	if err != nil {
		utils.Sugar.Fatalf("load milestone catalog: %v", err)
	}

	policy := otp.Policy{
		RequestInterval: cfg.OTPRequestInterval(),
		MaxAttempts:     cfg.OTPMaxAttempts,
		AttemptWindow:   cfg.OTPAttemptWindow(),
		LockoutTTL:      cfg.OTPLockout(),
		CodeTTL:         cfg.OTPCodeTTL(),
		CodeLength:      cfg.OTPCodeLength,
	}
	var store otp.Store
	switch cfg.OTPStore {
	case "redis":
		store = otp.NewRedisStore(utils.GetRedis(), policy.Retention())
	default:
		store = otp.NewGormStore(db)
	}
	throttle := otp.NewThrottle(store, policy, log, otp.WithStoreTimeout(cfg.StoreTimeout()))

	streaks := streak.NewEngine(db, log)
	tracker := milestone.NewTracker(db, catalog, log)
	credits := ledger.New(db, log)
	orchestrator := rewards.New(db, streaks, tracker, credits, clock.System{}, rewards.Config{
		StreakRewardEvery:       cfg.StreakRewardEvery,
		StreakRewardCredits:     int64(cfg.StreakRewardCredits),
		ReflectionRewardCredits: int64(cfg.ReflectionRewardCredits),
		ReferralRewardCredits:   int64(cfg.ReferralRewardCredits),
		Timezone:                cfg.Timezone,
		StoreTimeout:            cfg.StoreTimeout(),
		Retry: rewards.RetryPolicy{
			MaxAttempts:     uint(cfg.RetryMaxAttempts),
			InitialInterval: msDuration(cfg.RetryInitialMs),
			MaxInterval:     msDuration(cfg.RetryMaxMs),
		},
		BatchConcurrency: cfg.BatchConcurrency,
	}, log)

	purge, err := utils.StartPurgeJob(cfg.OTPPurgeCron, "otp_attempts", throttle, cfg.StoreTimeout())
	if err != nil {
		utils.Sugar.Fatalf("schedule otp purge %q: %v", cfg.OTPPurgeCron, err)
	}

	r := routes.SetupRouter(routes.Deps{
		Config:       cfg,
		DB:           db,
		Throttle:     throttle,
		Orchestrator: orchestrator,
		Streaks:      streaks,
		Milestones:   tracker,
		Ledger:       credits,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	stopCron := func() { <-purge.Stop().Done() }
	if err := utils.GraceServer(":"+cfg.AppPort, r, stopCron); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
