package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/apperr"
	"github.com/cppla/habitledger/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ServiceTokenHeader carries the shared token on internal calls.
	ServiceTokenHeader = "X-Service-Token"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(ctx, "authorization header missing")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(ctx, "invalid authorization header format")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			unauthorized(ctx, "empty bearer token")
			return
		}

		claims, err := utils.ParseToken(secret, tokenString)
		if err != nil {
			unauthorized(ctx, "invalid token")
			return
		}

		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Next()
	}
}

// ServiceToken guards service-to-service routes. An empty configured token
// closes the group entirely.
func ServiceToken(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		got := ctx.GetHeader(ServiceTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			unauthorized(ctx, "invalid service token")
			return
		}
		ctx.Next()
	}
}

func unauthorized(ctx *gin.Context, msg string) {
	utils.Error(ctx, http.StatusUnauthorized, apperr.CodeUnauthorized, msg)
	ctx.Abort()
}

// UserID returns the authenticated user set by AuthRequired.
func UserID(ctx *gin.Context) (string, bool) {
	id := ctx.GetString(ContextUserIDKey)
	return id, id != ""
}
