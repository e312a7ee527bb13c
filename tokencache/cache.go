// Package tokencache implements Component C (spec.md §4.C): the
// authoritative, database-backed cache of OAuth access tokens fronting each
// credential's refresh-token source file. Ported behaviorally from the
// prior implementation's TokenCacheService — per-credential refresh
// exclusivity (there: a DashMap of per-uuid tokio Mutexes; here:
// golang.org/x/sync/singleflight, the idiomatic Go equivalent), the
// double-checked cache read, and the truncated-refresh-token fallback to a
// live read of the source file's access_token.
package tokencache

import (
	"context"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/proxycast/gateway/common/config"
	"github.com/proxycast/gateway/common/logger"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/model"
)

// memTTL bounds how long a validated access token is trusted out of the
// in-process cache before GetValidToken re-checks the DB-authoritative row.
// Kept well under config.TokenValidityMargin so a token never reads as
// usable in-process after it has actually gone stale in the DB.
const memTTL = 10 * time.Second

// RefreshedToken is what a Refresher returns on success.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string     // usually unchanged; some providers rotate it
	ExpiryTime   *time.Time // nil means "unknown/never", per spec.md §3 I5
}

// Refresher performs the provider-specific OAuth refresh (or, for
// static-API-key types, a pass-through) for one credential. Each adaptor
// registers its own Refresher at startup, keeping tokencache
// adaptor-agnostic.
type Refresher func(ctx context.Context, c *model.Credential) (RefreshedToken, error)

// SourceReader re-reads the live access_token (and refresh_token) directly
// from a credential's creds_file_path, used only for the truncation
// fallback below. Adaptors that read JSON auth files (gjson-based) register
// this alongside their Refresher.
type SourceReader func(c *model.Credential) (accessToken, refreshToken string, err error)

// Cache is the token-cache engine. One per process, backed directly by
// model.DB, fronted by an in-process memTTL cache (spec.md §4.C "DB-backed
// (authoritative) with an in-memory lock map") so a hot credential's
// GetValidToken calls don't round-trip to the DB on every request.
type Cache struct {
	db *gorm.DB

	sf  singleflight.Group
	mem *gocache.Cache

	refreshers    map[channeltype.Type]Refresher
	sourceReaders map[channeltype.Type]SourceReader
}

// New creates a token cache over db (normally model.DB).
func New(db *gorm.DB) *Cache {
	c := &Cache{
		db:            db,
		mem:           gocache.New(memTTL, 2*memTTL),
		refreshers:    make(map[channeltype.Type]Refresher),
		sourceReaders: make(map[channeltype.Type]SourceReader),
	}
	return c
}

// RegisterRefresher wires t's OAuth refresh (or key pass-through) logic.
func (c *Cache) RegisterRefresher(t channeltype.Type, fn Refresher) {
	c.refreshers[t.Canonical()] = fn
}

// RegisterSourceReader wires t's fallback "read access_token straight off
// the creds file" logic, used only when a refresh fails due to a truncated
// refresh_token (spec.md §8 scenario S5).
func (c *Cache) RegisterSourceReader(t channeltype.Type, fn SourceReader) {
	c.sourceReaders[t.Canonical()] = fn
}

// GetValidToken returns a usable access token for credential uuid,
// refreshing it first if the cached one is missing, expired, or within
// config.TokenValidityMargin of expiring (spec.md §4.C).
func (c *Cache) GetValidToken(ctx context.Context, uuid string) (string, error) {
	if token, ok := c.mem.Get(uuid); ok {
		return token.(string), nil
	}

	var cached model.TokenCache
	err := c.db.Where("credential_uuid = ?", uuid).First(&cached).Error
	if err == nil && cached.Valid(config.TokenValidityMargin, time.Now()) {
		c.mem.SetDefault(uuid, cached.AccessToken)
		return cached.AccessToken, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errors.Wrap(err, "load token cache")
	}

	token, refreshErr := c.RefreshAndCache(ctx, uuid, false)
	if refreshErr == nil {
		c.mem.SetDefault(uuid, token)
		return token, nil
	}

	if isTruncatedRefreshTokenError(refreshErr) {
		if fallback, ok := c.truncationFallback(uuid, refreshErr); ok {
			return fallback, nil
		}
	}
	return "", refreshErr
}

// isTruncatedRefreshTokenError detects the failure class the prior
// implementation treats specially: a refresh_token that was visibly cut
// short when copied into the credential store.
func isTruncatedRefreshTokenError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "截断") || strings.Contains(msg, "truncated")
}

func (c *Cache) truncationFallback(uuid string, refreshErr error) (string, bool) {
	var cred model.Credential
	if err := c.db.Where("uuid = ?", uuid).First(&cred).Error; err != nil {
		return "", false
	}

	reader := c.sourceReaders[cred.Type.Canonical()]
	if reader == nil {
		return "", false
	}

	accessToken, refreshToken, err := reader(&cred)
	if err != nil || accessToken == "" {
		logger.Logger.Error("tokencache: truncation fallback could not read source file",
			zap.String("uuid", uuid), zap.Error(err))
		return "", false
	}

	logger.Logger.Warn("tokencache: refresh_token truncated, falling back to source file access_token",
		zap.String("uuid", uuid))

	now := time.Now()
	row := model.TokenCache{
		CredentialUUID:    uuid,
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		ExpiryTime:        nil, // unknown; see spec.md §3 Invariant I5
		LastRefresh:       &now,
		RefreshErrorCount: 1,
		LastRefreshError:  "refresh_token truncated, used source file access_token: " + refreshErr.Error(),
	}
	_ = c.upsert(&row)

	return accessToken, true
}

// RefreshAndCache performs the provider-specific refresh (deduplicated
// per-uuid via singleflight, mirroring the prior implementation's per-uuid
// tokio Mutex) and persists the result. force bypasses the double-checked
// cache read so callers forced by a 401 always get a fresh token.
func (c *Cache) RefreshAndCache(ctx context.Context, uuid string, force bool) (string, error) {
	v, err, _ := c.sf.Do(uuid, func() (any, error) {
		if !force {
			var cached model.TokenCache
			if err := c.db.Where("credential_uuid = ?", uuid).First(&cached).Error; err == nil {
				if cached.Valid(config.TokenValidityMargin, time.Now()) {
					return cached.AccessToken, nil
				}
			}
		}

		var cred model.Credential
		if err := c.db.Where("uuid = ?", uuid).First(&cred).Error; err != nil {
			return "", errors.Wrap(err, "load credential")
		}

		refresher := c.refreshers[cred.Type.Canonical()]
		if refresher == nil {
			return "", apierr.Configuration("no refresher registered for type "+string(cred.Type), nil)
		}

		refreshed, refreshErr := refresher(ctx, &cred)
		if refreshErr != nil {
			c.recordRefreshError(uuid, refreshErr)
			return "", refreshErr
		}

		now := time.Now()
		row := model.TokenCache{
			CredentialUUID: uuid,
			AccessToken:    refreshed.AccessToken,
			RefreshToken:   refreshed.RefreshToken,
			ExpiryTime:     refreshed.ExpiryTime,
			LastRefresh:    &now,
		}
		if err := c.upsert(&row); err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// LoadInitialToken seeds the cache for a newly-added credential, retrying
// transient failures (§4.C "_with_retry" variant below) so a credential
// added during a brief network blip isn't immediately unusable.
func (c *Cache) LoadInitialToken(ctx context.Context, uuid string) error {
	_, err := c.RefreshAndCacheWithRetry(ctx, uuid, config.TokenRefreshRetryAttempts)
	return err
}

// RefreshAndCacheWithRetry implements spec.md §4.C's documented
// "refresh_token_with_retry" variant: up to maxAttempts refresh attempts
// with linear backoff (1s, 2s, 3s, ...), retrying only the transient
// TokenRefreshNetworkError/TokenRefreshServerError kinds (apierr.Error.
// Retryable). TokenRefreshInvalidGrant and every other kind return
// immediately after the first attempt — no retry for invalid_grant.
func (c *Cache) RefreshAndCacheWithRetry(ctx context.Context, uuid string, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		token, err := c.RefreshAndCache(ctx, uuid, true)
		if err == nil {
			return token, nil
		}
		lastErr = err

		apiErr, ok := apierr.As(err)
		if !ok || !apiErr.Retryable {
			return "", err
		}

		if attempt < maxAttempts-1 {
			logger.Logger.Warn("tokencache: retryable refresh failure, backing off",
				zap.String("uuid", uuid), zap.Int("attempt", attempt+1), zap.Error(err))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	return "", lastErr
}

// ClearCache deletes the cached token row for uuid (e.g. on credential
// deletion or explicit "force re-login").
func (c *Cache) ClearCache(uuid string) error {
	c.mem.Delete(uuid)
	return c.db.Where("credential_uuid = ?", uuid).Delete(&model.TokenCache{}).Error
}

// Status is the read-only view returned by GetCacheStatus.
type Status struct {
	HasCache          bool
	Valid             bool
	ExpiryTime        *time.Time
	RefreshErrorCount uint32
	LastRefreshError  string
}

// GetCacheStatus reports the cache row's state without mutating anything,
// for the management UI's credential detail view.
func (c *Cache) GetCacheStatus(uuid string) (Status, error) {
	var row model.TokenCache
	err := c.db.Where("credential_uuid = ?", uuid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, errors.Wrap(err, "load token cache")
	}
	return Status{
		HasCache:          true,
		Valid:             row.Valid(config.TokenValidityMargin, time.Now()),
		ExpiryTime:        row.ExpiryTime,
		RefreshErrorCount: row.RefreshErrorCount,
		LastRefreshError:  row.LastRefreshError,
	}, nil
}

func (c *Cache) recordRefreshError(uuid string, refreshErr error) {
	var row model.TokenCache
	err := c.db.Where("credential_uuid = ?", uuid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = model.TokenCache{CredentialUUID: uuid}
	} else if err != nil {
		return
	}
	row.RefreshErrorCount++
	row.LastRefreshError = refreshErr.Error()
	_ = c.upsert(&row)
}

func (c *Cache) upsert(row *model.TokenCache) error {
	var existing model.TokenCache
	err := c.db.Where("credential_uuid = ?", row.CredentialUUID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if saveErr := c.db.Create(row).Error; saveErr != nil {
			return errors.Wrap(saveErr, "insert token cache")
		}
		c.rememberInMem(row)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load existing token cache")
	}
	row.ID = existing.ID
	if saveErr := c.db.Save(row).Error; saveErr != nil {
		return errors.Wrap(saveErr, "update token cache")
	}
	c.rememberInMem(row)
	return nil
}

// rememberInMem refreshes the in-process cache entry after a DB write, but
// only when row actually carries a usable token — recordRefreshError upserts
// error-only rows with no AccessToken yet, which must not evict a still-good
// cached token with an empty string.
func (c *Cache) rememberInMem(row *model.TokenCache) {
	if row.AccessToken != "" {
		c.mem.SetDefault(row.CredentialUUID, row.AccessToken)
	}
}
