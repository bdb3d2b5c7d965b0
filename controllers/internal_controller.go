package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/rewards"
	"github.com/cppla/habitledger/utils"
)

const maxBatchEvents = 500

// InternalController accepts events from trusted services.
type InternalController struct {
	orchestrator *rewards.Orchestrator
}

func NewInternalController(o *rewards.Orchestrator) *InternalController {
	return &InternalController{orchestrator: o}
}

type eventsRequest struct {
	Events []rewards.ActivityEvent `json:"events" binding:"required"`
}

type referralRequest struct {
	ReferrerID     string `json:"referrer_id" binding:"required"`
	ReferredUserID string `json:"referred_user_id" binding:"required"`
}

type batchItem struct {
	Index   int              `json:"index"`
	Code    string           `json:"code"`
	Message string           `json:"message,omitempty"`
	Outcome *rewards.Outcome `json:"outcome,omitempty"`
}

// Events applies a batch of activity events. Each event succeeds or fails on
// its own; the response lists one item per event in request order.
func (i *InternalController) Events(ctx *gin.Context) {
	var req eventsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, apperr.InvalidRequest("events are required"))
		return
	}
	if len(req.Events) > maxBatchEvents {
		utils.Fail(ctx, apperr.InvalidRequest("at most %d events per batch", maxBatchEvents))
		return
	}
	for n := range req.Events {
		req.Events[n].Category = strings.ToLower(strings.TrimSpace(req.Events[n].Category))
	}

	results := i.orchestrator.HandleBatch(ctx.Request.Context(), req.Events)
	items := make([]batchItem, len(results))
	failed := 0
	for n, r := range results {
		item := batchItem{Index: r.Index, Code: utils.CodeOK, Outcome: r.Outcome}
		if r.Failed() {
			failed++
			item.Code = r.Error.Code
			item.Message = r.Error.Message
		}
		items[n] = item
	}
	utils.Success(ctx, gin.H{"items": items, "failed": failed})
}

// Referral pays the referrer once per referred user.
func (i *InternalController) Referral(ctx *gin.Context) {
	var req referralRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, apperr.InvalidRequest("referrer_id and referred_user_id are required"))
		return
	}
	res, err := i.orchestrator.GrantReferral(ctx.Request.Context(), strings.TrimSpace(req.ReferrerID), strings.TrimSpace(req.ReferredUserID))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	granted(ctx, res)
}
