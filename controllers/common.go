package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/dbctx"
	"github.com/cppla/habitledger/ledger"
	"github.com/cppla/habitledger/middleware"
	"github.com/cppla/habitledger/utils"
)

// reader bounds read-only store calls made on behalf of one request.
type reader struct {
	timeout time.Duration
}

func (r reader) dbc(ctx *gin.Context) (dbctx.Context, context.CancelFunc) {
	c := ctx.Request.Context()
	if r.timeout <= 0 {
		return dbctx.Context{Ctx: c}, func() {}
	}
	c, cancel := context.WithTimeout(c, r.timeout)
	return dbctx.Context{Ctx: c}, cancel
}

// currentUser writes AUTH_004 and returns false when no user is attached.
func currentUser(ctx *gin.Context) (string, bool) {
	id, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, apperr.ErrUnauthorized)
	}
	return id, ok
}

// bind decodes the JSON body into req; an empty body leaves req untouched.
func bind(ctx *gin.Context, req interface{}) bool {
	if ctx.Request.ContentLength == 0 {
		return true
	}
	if err := ctx.ShouldBindJSON(req); err != nil {
		utils.Fail(ctx, apperr.InvalidRequest("invalid request payload"))
		return false
	}
	return true
}

// granted writes a ledger result. A replay keeps status 200 and the original
// entry but reports LEDGER_001 instead of OK.
func granted(ctx *gin.Context, res ledger.GrantResult) {
	if res.AlreadyGranted {
		ae := apperr.ErrAlreadyGranted
		utils.Respond(ctx, ae.Status, ae.Code, ae.Message, res)
		return
	}
	utils.Success(ctx, res)
}

func queryInt(ctx *gin.Context, key string, def int) int {
	if v := strings.TrimSpace(ctx.Query(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
