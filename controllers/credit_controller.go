package controllers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/ledger"
	"github.com/cppla/habitledger/rewards"
	"github.com/cppla/habitledger/utils"
)

// CreditController exposes the caller's ledger.
type CreditController struct {
	reader
	ledger       *ledger.Ledger
	orchestrator *rewards.Orchestrator
}

func NewCreditController(l *ledger.Ledger, o *rewards.Orchestrator, timeout time.Duration) *CreditController {
	return &CreditController{reader: reader{timeout: timeout}, ledger: l, orchestrator: o}
}

type purchaseRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	TxID   string `json:"tx_id" binding:"required"`
}

// Balance returns the folded balance.
func (c *CreditController) Balance(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	dbc, cancel := c.dbc(ctx)
	defer cancel()
	balance, err := c.ledger.Balance(dbc, userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"user_id": userID, "balance": balance})
}

// Entries returns the caller's history, newest first.
func (c *CreditController) Entries(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	dbc, cancel := c.dbc(ctx)
	defer cancel()
	page, err := c.ledger.Entries(dbc, userID, queryInt(ctx, "page", 1), queryInt(ctx, "page_size", 20))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"items": page.Items,
		"pagination": gin.H{
			"page":        page.Page,
			"page_size":   page.PageSize,
			"total":       page.Total,
			"total_pages": page.TotalPages,
		},
	})
}

// Entry looks up one of the caller's entries by its related id.
func (c *CreditController) Entry(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	dbc, cancel := c.dbc(ctx)
	defer cancel()
	e, err := c.ledger.Find(dbc, userID, ctx.Param("related_id"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, e)
}

// Purchase debits the caller. Replays of the same tx_id return the original entry.
func (c *CreditController) Purchase(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Fail(ctx, apperr.InvalidRequest("amount and tx_id are required"))
		return
	}
	res, err := c.orchestrator.Purchase(ctx.Request.Context(), userID, req.Amount, strings.TrimSpace(req.TxID))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	granted(ctx, res)
}
