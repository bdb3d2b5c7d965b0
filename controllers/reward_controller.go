package controllers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/milestone"
	"github.com/cppla/habitledger/rewards"
	"github.com/cppla/habitledger/streak"
	"github.com/cppla/habitledger/utils"
)

// RewardController serves the user-facing activity, streak, milestone and
// reflection endpoints.
type RewardController struct {
	reader
	orchestrator *rewards.Orchestrator
	streaks      *streak.Engine
	milestones   *milestone.Tracker
}

func NewRewardController(o *rewards.Orchestrator, streaks *streak.Engine, milestones *milestone.Tracker, timeout time.Duration) *RewardController {
	return &RewardController{
		reader:       reader{timeout: timeout},
		orchestrator: o,
		streaks:      streaks,
		milestones:   milestones,
	}
}

type activityRequest struct {
	Category string `json:"category" binding:"required"`
	LocalDay string `json:"local_day"`
	Timezone string `json:"timezone"`
}

// dayRequest names the caller's local day directly or through an IANA zone.
type dayRequest struct {
	LocalDay string `json:"local_day"`
	Timezone string `json:"timezone"`
}

// RecordActivity applies one activity for the caller.
func (r *RewardController) RecordActivity(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req activityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, apperr.InvalidRequest("category is required"))
		return
	}
	out, err := r.orchestrator.HandleActivity(ctx.Request.Context(), rewards.ActivityEvent{
		UserID:   userID,
		Category: strings.ToLower(strings.TrimSpace(req.Category)),
		LocalDay: strings.TrimSpace(req.LocalDay),
		Timezone: strings.TrimSpace(req.Timezone),
	})
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, out)
}

// Streaks returns the caller's streak snapshot.
func (r *RewardController) Streaks(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	dbc, cancel := r.dbc(ctx)
	defer cancel()
	snap, err := r.streaks.Snapshot(dbc, userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, snap)
}

// Milestones lists every catalog milestone with the caller's progress.
func (r *RewardController) Milestones(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	dbc, cancel := r.dbc(ctx)
	defer cancel()
	views, err := r.milestones.Statuses(dbc, userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": views})
}

// ClaimMilestone claims a completed milestone and pays it.
func (r *RewardController) ClaimMilestone(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req dayRequest
	if !bind(ctx, &req) {
		return
	}
	res, err := r.orchestrator.ClaimMilestone(ctx.Request.Context(), userID, ctx.Param("id"),
		strings.TrimSpace(req.LocalDay), strings.TrimSpace(req.Timezone))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	granted(ctx, res)
}

// Reflection pays the weekly reflection reward, once per ISO week.
func (r *RewardController) Reflection(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req dayRequest
	if !bind(ctx, &req) {
		return
	}
	res, err := r.orchestrator.GrantReflection(ctx.Request.Context(), userID,
		strings.TrimSpace(req.LocalDay), strings.TrimSpace(req.Timezone))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	granted(ctx, res)
}
