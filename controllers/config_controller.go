package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/milestone"
	"github.com/cppla/habitledger/rewards"
	"github.com/cppla/habitledger/utils"
)

const rewardsConfigCacheKey = "config:rewards:v1"

// ConfigController serves the reward configuration the UI renders.
type ConfigController struct {
	cfg      rewards.Config
	catalog  *milestone.Catalog
	cacheTTL time.Duration
}

func NewConfigController(cfg rewards.Config, catalog *milestone.Catalog) *ConfigController {
	return &ConfigController{cfg: cfg, catalog: catalog, cacheTTL: 10 * time.Minute}
}

// GetRewards returns streak tiers, fixed grants and the milestone catalog.
func (c *ConfigController) GetRewards(ctx *gin.Context) {
	body, err := utils.CacheJSON(ctx.Request.Context(), rewardsConfigCacheKey, c.cacheTTL, func() (interface{}, error) {
		return utils.JSONResponse{Code: utils.CodeOK, Message: "success", Data: gin.H{
			"streak_reward_every":       c.cfg.StreakRewardEvery,
			"streak_reward_credits":     c.cfg.StreakRewardCredits,
			"reflection_reward_credits": c.cfg.ReflectionRewardCredits,
			"referral_reward_credits":   c.cfg.ReferralRewardCredits,
			"milestones":                c.catalog.All(),
		}}, nil
	})
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
