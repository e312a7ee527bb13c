package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/common/ctxkey"
	"github.com/proxycast/gateway/common/logger"
)

// PanicRecover is the gateway's replacement for the teacher's
// middleware.RelayPanicRecover: same recover-log-JSON504 shape, minus the
// request-body echo (the gateway relays opaque provider wire bodies that
// may carry credentials, so they are never logged) and the one-api-specific
// issue-tracker URL.
func PanicRecover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("stacktrace", string(debug.Stack())),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(ctxkey.RequestId)))
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"message": "internal error",
						"type":    "proxycast_panic",
					},
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
