package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/gwconfig"
)

// ClientAuth gates every client-facing relay endpoint (spec.md §6 "Auth:
// Authorization: Bearer {api_key}"): a constant-time comparison against
// the current server.api_key, read fresh on every request so a
// hot-reloaded key takes effect without restart. Unlike ManagementAuth
// this has no failure-rate limiter of its own — spec.md §6 only specifies
// the five-failures/5-minute-block rule for the management surface.
func ClientAuth(cfg *gwconfig.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := cfg.Get().Server.APIKey
		if expected == "" {
			abortManagementAuth(c, http.StatusUnauthorized, "Server API key is not configured")
			return
		}

		auth := c.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			abortManagementAuth(c, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		c.Next()
	}
}
