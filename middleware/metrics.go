package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/habitledger/metrics"
)

// Metrics instruments HTTP request counts and latency by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		done := metrics.HTTPStarted()
		c.Next()
		done(c.Request.Method, c.FullPath(), c.Writer.Status())
	}
}
