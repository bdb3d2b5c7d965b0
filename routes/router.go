package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/config"
	"github.com/cppla/habitledger/controllers"
	"github.com/cppla/habitledger/ledger"
	"github.com/cppla/habitledger/metrics"
	"github.com/cppla/habitledger/middleware"
	"github.com/cppla/habitledger/milestone"
	"github.com/cppla/habitledger/otp"
	"github.com/cppla/habitledger/rewards"
	"github.com/cppla/habitledger/streak"
	"github.com/cppla/habitledger/utils"
)

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Config       config.AppConfig
	DB           *gorm.DB
	Throttle     *otp.Throttle
	Orchestrator *rewards.Orchestrator
	Streaks      *streak.Engine
	Milestones   *milestone.Tracker
	Ledger       *ledger.Ledger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	accessLog := utils.Logger.Named("gin")
	if cfg.GinPath != "" {
		gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err == nil {
			accessLog = gl
		} else {
			utils.Sugar.Warnf("gin file logger unavailable, using app logger: %v", err)
		}
	}
	r.Use(utils.Ginzap(accessLog, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(accessLog, true))
	r.Use(middleware.Metrics())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.ServiceTokenHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", health(d.DB, cfg.StoreTimeout()))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	timeout := cfg.StoreTimeout()
	otpController := controllers.NewOTPController(d.Throttle)
	rewardController := controllers.NewRewardController(d.Orchestrator, d.Streaks, d.Milestones, timeout)
	creditController := controllers.NewCreditController(d.Ledger, d.Orchestrator, timeout)
	internalController := controllers.NewInternalController(d.Orchestrator)
	configController := controllers.NewConfigController(d.Orchestrator.Config(), d.Milestones.Catalog())

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitPerMinute)

	api := r.Group("/api/v1")
	api.GET("/config/rewards", configController.GetRewards)

	otpGroup := api.Group("/otp")
	otpGroup.Use(limiter.Middleware())
	otpGroup.POST("/request", otpController.Request)
	otpGroup.POST("/verify", otpController.Verify)
	otpGroup.GET("/status", otpController.Status)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(cfg.JWTSecret), limiter.Middleware())
	protected.POST("/activity", rewardController.RecordActivity)
	protected.GET("/streaks", rewardController.Streaks)
	protected.GET("/milestones", rewardController.Milestones)
	protected.POST("/milestones/:id/claim", rewardController.ClaimMilestone)
	protected.POST("/rewards/reflection", rewardController.Reflection)
	protected.GET("/credits/balance", creditController.Balance)
	protected.GET("/credits/entries", creditController.Entries)
	protected.GET("/credits/entries/:related_id", creditController.Entry)
	protected.POST("/credits/purchase", creditController.Purchase)

	internal := r.Group("/internal/v1")
	internal.Use(middleware.ServiceToken(cfg.InternalToken))
	internal.POST("/events", internalController.Events)
	internal.POST("/referrals", internalController.Referral)

	r.NoRoute(func(ctx *gin.Context) {
		ae := apperr.ErrNotFound
		utils.Error(ctx, http.StatusNotFound, ae.Code, "route not found")
	})

	return r
}

func health(db *gorm.DB, timeout time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := "ok"
		if db != nil {
			c, cancel := context.WithTimeout(ctx.Request.Context(), timeout)
			defer cancel()
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c)
			}
			if err != nil {
				utils.Fail(ctx, apperr.Transient(err))
				return
			}
		}
		utils.Success(ctx, gin.H{"status": status})
	}
}
