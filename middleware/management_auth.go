// Package middleware holds the gateway's Gin middleware, following the
// teacher's middleware/ package layout and AbortWithError idiom.
package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/proxycast/gateway/common/ctxkey"
	"github.com/proxycast/gateway/common/logger"
	"github.com/proxycast/gateway/gwconfig"
)

// Failure-rate limiting constants, ported from the prior implementation's
// management_auth.rs (MAX_AUTH_FAILURES/FAILURE_WINDOW_SECS/BLOCK_SECS/
// MAX_FAILURE_ENTRIES/ENTRY_EXPIRE_SECS).
const (
	maxAuthFailures   = 5
	failureWindow     = 60 * time.Second
	blockDuration     = 5 * time.Minute
	maxFailureEntries = 10000
	entryExpire       = time.Hour
)

// failureEntry tracks one client's recent authentication failures. limiter
// is a token bucket refilling one token every failureWindow/maxAuthFailures;
// its Allow() going false is this client's 5th failure inside the window,
// which trips blockedUntil. Grounded on BaSui01-agentflow's per-visitor
// rate.Limiter map (cmd/agentflow/middleware.go RateLimiter), repurposed
// from request throttling to auth-failure throttling per SPEC_FULL.md's
// domain-stack wiring of golang.org/x/time/rate.
type failureEntry struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
	lastAccess   time.Time
}

var (
	failuresMu sync.Mutex
	failures   = make(map[string]*failureEntry)
)

func newFailureLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(failureWindow/maxAuthFailures), maxAuthFailures)
}

// checkAuthRateLimit reports whether clientID may attempt authentication
// right now. It never itself counts a failure; recordFailure does that.
func checkAuthRateLimit(clientID string) bool {
	failuresMu.Lock()
	defer failuresMu.Unlock()

	e, ok := failures[clientID]
	if !ok {
		return true
	}
	e.lastAccess = time.Now()
	if !e.blockedUntil.IsZero() {
		if time.Now().Before(e.blockedUntil) {
			return false
		}
		e.blockedUntil = time.Time{}
		e.limiter = newFailureLimiter()
	}
	return true
}

// recordAuthFailure counts one failed attempt for clientID, blocking it for
// blockDuration once maxAuthFailures land inside the window.
func recordAuthFailure(clientID string) {
	failuresMu.Lock()
	defer failuresMu.Unlock()

	now := time.Now()
	if len(failures) > maxFailureEntries {
		for k, e := range failures {
			if now.Sub(e.lastAccess) > entryExpire {
				delete(failures, k)
			}
		}
	}

	e, ok := failures[clientID]
	if !ok {
		e = &failureEntry{limiter: newFailureLimiter()}
		failures[clientID] = e
	}
	e.lastAccess = now
	if !e.limiter.Allow() {
		e.blockedUntil = now.Add(blockDuration)
	}
}

// recordAuthSuccess clears clientID's failure history, mirroring
// management_auth.rs's record_success.
func recordAuthSuccess(clientID string) {
	failuresMu.Lock()
	defer failuresMu.Unlock()
	delete(failures, clientID)
}

// managementClientID derives the rate-limit key from the real socket
// address only. X-Forwarded-For is never consulted here: a spoofed header
// would let an attacker bypass the failure-rate limit or grow the failure
// map unbounded, per management_auth.rs's own hardening comment.
func managementClientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopbackAddr(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func extractManagementKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("X-Management-Key")
}

func secretKeyMatches(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func abortManagementAuth(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
		},
	})
	c.Abort()
}

// ManagementAuth gates the remote-management API (spec.md §6 "Remote
// Management"): secret-key bearer auth, loopback-only unless allow_remote,
// and a failure-rate limiter, all ported from management_auth.rs. cfg is
// read fresh on every request so a hot-reloaded secret_key/allow_remote
// takes effect without restart.
func ManagementAuth(cfg *gwconfig.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := managementClientID(c.Request)
		c.Set(ctxkey.ManagementClientIP, clientID)

		if !checkAuthRateLimit(clientID) {
			abortManagementAuth(c, http.StatusTooManyRequests, "Too many failed authentication attempts")
			return
		}

		rm := cfg.Get().RemoteManagement
		if rm.SecretKey == "" {
			logger.Logger.Debug("management auth: API disabled, no secret_key configured")
			abortManagementAuth(c, http.StatusNotFound, "Management API is disabled")
			return
		}

		if !rm.AllowRemote && !isLoopbackAddr(c.Request) {
			logger.Logger.Warn("management auth: remote access denied", zap.String("client", clientID))
			abortManagementAuth(c, http.StatusForbidden, "Remote access is not allowed")
			return
		}

		provided := extractManagementKey(c)
		if provided == "" {
			logger.Logger.Warn("management auth: missing secret key", zap.String("client", clientID))
			recordAuthFailure(clientID)
			abortManagementAuth(c, http.StatusUnauthorized, "Missing secret key")
			return
		}
		if !secretKeyMatches(provided, rm.SecretKey) {
			logger.Logger.Warn("management auth: invalid secret key", zap.String("client", clientID))
			recordAuthFailure(clientID)
			abortManagementAuth(c, http.StatusUnauthorized, "Invalid secret key")
			return
		}

		recordAuthSuccess(clientID)
		c.Next()
	}
}
