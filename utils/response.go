package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/habitledger/apperr"
)

// CodeOK marks a successful envelope.
const CodeOK = "OK"

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code string, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, 200, CodeOK, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code string, message string) {
	Respond(ctx, status, code, message, nil)
}

// Fail maps err onto its stable code and writes it. Causes are logged, never
// sent. Invariant violations are logged at error level.
func Fail(ctx *gin.Context, err error) {
	ae := apperr.From(err)
	switch ae.Class {
	case apperr.ClassInvariant:
		Logger.Error("invariant violation", zap.String("path", ctx.FullPath()), zap.Error(ae))
	case apperr.ClassTransient:
		Logger.Warn("request failed", zap.String("path", ctx.FullPath()), zap.Error(ae))
	}
	if ae.Retriable {
		ctx.Header("Retry-After", "1")
	}
	Error(ctx, ae.Status, ae.Code, ae.Message)
}

// FailWithData is Fail with a payload, used for gate decisions that carry
// lockout details alongside the code.
func FailWithData(ctx *gin.Context, err error, data interface{}, retryAfter int) {
	ae := apperr.From(err)
	if retryAfter > 0 {
		ctx.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	Respond(ctx, ae.Status, ae.Code, ae.Message, data)
}
