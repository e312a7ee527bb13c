package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/proxycast/gateway/common/ctxkey"
)

// RequestId stamps every request with a correlation id, set into both the
// gin context (for handlers/logging) and the response header, mirroring
// the teacher's middleware.RequestId — generalized from its helper.GenRequestID
// counter-based id to a google/uuid v4, since the gateway has no shared
// counter/node-id infrastructure to keep ids ordered across restarts.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(ctxkey.RequestId, id)
		c.Header(ctxkey.RequestId, id)
		c.Next()
	}
}
