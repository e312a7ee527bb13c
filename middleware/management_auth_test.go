package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxycast/gateway/gwconfig"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newManagementRequest(t *testing.T, remoteAddr, authHeader, mgmtKeyHeader string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, "/management/credentials", nil)
	req.RemoteAddr = remoteAddr
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if mgmtKeyHeader != "" {
		req.Header.Set("X-Management-Key", mgmtKeyHeader)
	}
	c.Request = req
	return w, c
}

func newTestStore(cfg gwconfig.Config) *gwconfig.Store {
	return gwconfig.NewStore(cfg)
}

// resetFailureState clears package-level failure tracking between test
// cases, since it is process-global like management_auth.rs's failure_map.
func resetFailureState() {
	failuresMu.Lock()
	defer failuresMu.Unlock()
	failures = make(map[string]*failureEntry)
}

func TestManagementAuthDisabledWithoutSecretKey(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	store := newTestStore(cfg)

	w, c := newManagementRequest(t, "127.0.0.1:5555", "", "")
	ManagementAuth(store)(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestManagementAuthRemoteDeniedWithoutAllowRemote(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	cfg.RemoteManagement.SecretKey = "s3cret"
	store := newTestStore(cfg)

	w, c := newManagementRequest(t, "203.0.113.5:5555", "Bearer s3cret", "")
	ManagementAuth(store)(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestManagementAuthRemoteAllowedWithAllowRemote(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	cfg.RemoteManagement.SecretKey = "s3cret"
	cfg.RemoteManagement.AllowRemote = true
	store := newTestStore(cfg)

	w, c := newManagementRequest(t, "203.0.113.5:5555", "Bearer s3cret", "")
	ManagementAuth(store)(c)

	assert.False(t, c.IsAborted())
	assert.NotEqual(t, http.StatusForbidden, w.Code)
}

func TestManagementAuthMissingKey(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	cfg.RemoteManagement.SecretKey = "s3cret"
	store := newTestStore(cfg)

	w, c := newManagementRequest(t, "127.0.0.1:5555", "", "")
	ManagementAuth(store)(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestManagementAuthInvalidKey(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	cfg.RemoteManagement.SecretKey = "s3cret"
	store := newTestStore(cfg)

	w, c := newManagementRequest(t, "127.0.0.1:5555", "Bearer wrong", "")
	ManagementAuth(store)(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestManagementAuthSucceedsViaXManagementKeyHeader(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	cfg.RemoteManagement.SecretKey = "s3cret"
	store := newTestStore(cfg)

	w, c := newManagementRequest(t, "127.0.0.1:5555", "", "s3cret")
	ManagementAuth(store)(c)

	assert.False(t, c.IsAborted())
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestManagementAuthBlocksAfterRepeatedFailures(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	cfg.RemoteManagement.SecretKey = "s3cret"
	store := newTestStore(cfg)

	var lastCode int
	for i := 0; i < maxAuthFailures; i++ {
		w, c := newManagementRequest(t, "127.0.0.1:6000", "Bearer wrong", "")
		ManagementAuth(store)(c)
		lastCode = w.Code
	}
	require.Equal(t, http.StatusUnauthorized, lastCode, "the triggering failure itself is still reported as invalid key")

	// The very next attempt, even with the correct key, is blocked by rate limiting.
	w, c := newManagementRequest(t, "127.0.0.1:6000", "Bearer s3cret", "")
	ManagementAuth(store)(c)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestManagementAuthSuccessClearsFailureHistory(t *testing.T) {
	resetFailureState()
	cfg := gwconfig.Default()
	cfg.RemoteManagement.SecretKey = "s3cret"
	store := newTestStore(cfg)

	clientAddr := "127.0.0.1:6100"
	for i := 0; i < maxAuthFailures-1; i++ {
		_, c := newManagementRequest(t, clientAddr, "Bearer wrong", "")
		ManagementAuth(store)(c)
	}

	_, c := newManagementRequest(t, clientAddr, "Bearer s3cret", "")
	ManagementAuth(store)(c)
	assert.False(t, c.IsAborted())

	failuresMu.Lock()
	_, tracked := failures[managementClientID(c.Request)]
	failuresMu.Unlock()
	assert.False(t, tracked, "a successful auth must clear the client's failure entry")
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5555", true},
		{"[::1]:5555", true},
		{"203.0.113.5:5555", false},
		{"not-an-addr", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.addr
		assert.Equal(t, tc.want, isLoopbackAddr(req), tc.addr)
	}
}

func TestManagementClientIDIgnoresForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:5555"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")

	assert.Equal(t, "203.0.113.5", managementClientID(req))
}

func TestSecretKeyMatchesConstantTime(t *testing.T) {
	assert.True(t, secretKeyMatches("abc", "abc"))
	assert.False(t, secretKeyMatches("abc", "abd"))
	assert.False(t, secretKeyMatches("abc", "abcd"))
}

func TestExtractManagementKeyPrefersBearer(t *testing.T) {
	w, c := newManagementRequest(t, "127.0.0.1:5555", "Bearer from-bearer", "from-header")
	_ = w
	assert.Equal(t, "from-bearer", extractManagementKey(c))
}

func TestFailureEntryUnblocksAfterWindow(t *testing.T) {
	resetFailureState()
	clientID := "198.51.100.1"
	for i := 0; i < maxAuthFailures; i++ {
		recordAuthFailure(clientID)
	}
	assert.False(t, checkAuthRateLimit(clientID))

	failuresMu.Lock()
	failures[clientID].blockedUntil = time.Now().Add(-time.Second)
	failuresMu.Unlock()

	assert.True(t, checkAuthRateLimit(clientID))
}
