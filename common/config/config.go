// Package config holds process-wide ambient settings read once at startup:
// debug toggles, timeouts, and file-system locations. It is deliberately
// separate from gwconfig, which owns the hot-reloadable Config aggregate
// (server/routing/injection/...) described in spec.md §3.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/proxycast/gateway/common/env"
)

var (
	// DebugEnabled toggles verbose structured logging and extended request/response
	// body logging when PROXYCAST_DEBUG=1 (spec.md §6 "Environment variables").
	DebugEnabled = env.Bool("PROXYCAST_DEBUG", false)

	// QwenOAuthClientID overrides the built-in Qwen device-code client id.
	QwenOAuthClientID = env.String("QWEN_OAUTH_CLIENT_ID", "")

	// DispatchTimeout bounds a non-streaming upstream HTTP call (seconds).
	DispatchTimeout = time.Duration(env.Int("DISPATCH_TIMEOUT_SECONDS", 120)) * time.Second

	// StreamDispatchTimeout bounds how long a streaming upstream connection may stay open
	// with no forward progress before the pipeline aborts it (seconds).
	StreamDispatchTimeout = time.Duration(env.Int("STREAM_IDLE_TIMEOUT_SECONDS", 90)) * time.Second

	// HealthProbeTimeout bounds a credential health-check request (spec.md §4.B).
	HealthProbeTimeout = 30 * time.Second

	// TokenValidityMargin is the "still valid" cushion subtracted from a token's expiry
	// when TokenCache.get_valid_token decides whether to refresh (spec.md §4.C).
	TokenValidityMargin = 5 * time.Minute

	// MaxCredentialErrorCount is the error_count threshold at which a credential
	// flips unhealthy (spec.md §3, Invariant I3).
	MaxCredentialErrorCount = uint32(3)

	// TokenRefreshRetryAttempts is N in spec.md §4.C's "refresh_token_with_retry"
	// variant: up to this many attempts, linear backoff, retryable kinds only.
	TokenRefreshRetryAttempts = env.Int("TOKEN_REFRESH_RETRY_ATTEMPTS", 3)

	// ShutdownTimeout bounds graceful HTTP server + background worker drain on exit.
	ShutdownTimeout = time.Duration(env.Int("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second

	// ConfigDir is the directory holding config.yaml and its .yaml.backup sibling.
	ConfigDir = expandHome(env.String("PROXYCAST_CONFIG_DIR", defaultConfigDir()))

	// DataDir is the directory holding copied credential files (spec.md §6 "Persisted state").
	DataDir = expandHome(env.String("PROXYCAST_DATA_DIR", defaultDataDir()))

	// AuthDir is the default location for OAuth token source files.
	AuthDir = expandHome(env.String("PROXYCAST_AUTH_DIR", "~/.proxycast/auth"))

	// SQLDSN selects the credential/config database backend: empty means SQLite,
	// "postgres://..." means PostgreSQL, anything else is treated as a MySQL DSN.
	SQLDSN = env.String("SQL_DSN", "")

	// SQLitePath is used only when SQLDSN is empty.
	SQLitePath = env.String("SQLITE_PATH", filepath.Join(defaultDataDir(), "proxycast.db"))
)

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "~/.config/proxycast"
	}
	return filepath.Join(dir, "proxycast")
}

func defaultDataDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "~/.local/share/proxycast"
	}
	return filepath.Join(dir, ".local", "share", "proxycast")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
