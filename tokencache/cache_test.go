package tokencache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
)

func setupCacheTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Credential{}, &model.TokenCache{}))
	return db
}

func TestRefreshAndCacheIsExclusivePerCredential(t *testing.T) {
	db := setupCacheTestDB(t)
	cred := &model.Credential{Type: channeltype.Qwen}
	require.NoError(t, db.Create(cred).Error)

	c := New(db)
	var calls atomic.Int32
	c.RegisterRefresher(channeltype.Qwen, func(ctx context.Context, cr *model.Credential) (RefreshedToken, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		exp := time.Now().Add(time.Hour)
		return RefreshedToken{AccessToken: "tok", ExpiryTime: &exp}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RefreshAndCache(context.Background(), cred.UUID, true)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "concurrent refreshes for one credential must collapse into a single upstream call")
}

func TestGetValidTokenFallsBackOnTruncatedRefreshToken(t *testing.T) {
	db := setupCacheTestDB(t)
	cred := &model.Credential{Type: channeltype.Gemini}
	require.NoError(t, db.Create(cred).Error)

	c := New(db)
	c.RegisterRefresher(channeltype.Gemini, func(ctx context.Context, cr *model.Credential) (RefreshedToken, error) {
		return RefreshedToken{}, errors.New("refresh_token truncated during import")
	})
	c.RegisterSourceReader(channeltype.Gemini, func(cr *model.Credential) (string, string, error) {
		return "live-access-token", "", nil
	})

	token, err := c.GetValidToken(context.Background(), cred.UUID)
	require.NoError(t, err)
	require.Equal(t, "live-access-token", token)

	status, err := c.GetCacheStatus(cred.UUID)
	require.NoError(t, err)
	require.True(t, status.HasCache)
	require.Equal(t, uint32(1), status.RefreshErrorCount)
}

func TestGetValidTokenReturnsCachedTokenWithoutRefreshing(t *testing.T) {
	db := setupCacheTestDB(t)
	cred := &model.Credential{Type: channeltype.Codex}
	require.NoError(t, db.Create(cred).Error)

	exp := time.Now().Add(time.Hour)
	require.NoError(t, db.Create(&model.TokenCache{CredentialUUID: cred.UUID, AccessToken: "cached", ExpiryTime: &exp}).Error)

	c := New(db)
	c.RegisterRefresher(channeltype.Codex, func(ctx context.Context, cr *model.Credential) (RefreshedToken, error) {
		t.Fatal("refresher should not be called when cache is valid")
		return RefreshedToken{}, nil
	})

	token, err := c.GetValidToken(context.Background(), cred.UUID)
	require.NoError(t, err)
	require.Equal(t, "cached", token)
}

func TestRefreshAndCacheWithRetryRetriesTransientFailureThenSucceeds(t *testing.T) {
	db := setupCacheTestDB(t)
	cred := &model.Credential{Type: channeltype.Qwen}
	require.NoError(t, db.Create(cred).Error)

	c := New(db)
	var calls atomic.Int32
	c.RegisterRefresher(channeltype.Qwen, func(ctx context.Context, cr *model.Credential) (RefreshedToken, error) {
		if calls.Add(1) == 1 {
			return RefreshedToken{}, apierr.RefreshNetworkError("upstream unreachable", nil)
		}
		return RefreshedToken{AccessToken: "tok-retry"}, nil
	})

	token, err := c.RefreshAndCacheWithRetry(context.Background(), cred.UUID, 2)
	require.NoError(t, err)
	require.Equal(t, "tok-retry", token)
	require.Equal(t, int32(2), calls.Load())
}

func TestRefreshAndCacheWithRetryDoesNotRetryInvalidGrant(t *testing.T) {
	db := setupCacheTestDB(t)
	cred := &model.Credential{Type: channeltype.Qwen}
	require.NoError(t, db.Create(cred).Error)

	c := New(db)
	var calls atomic.Int32
	c.RegisterRefresher(channeltype.Qwen, func(ctx context.Context, cr *model.Credential) (RefreshedToken, error) {
		calls.Add(1)
		return RefreshedToken{}, apierr.RefreshInvalidGrant("refresh token revoked", nil)
	})

	_, err := c.RefreshAndCacheWithRetry(context.Background(), cred.UUID, 3)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.TokenRefreshInvalidGrant, apiErr.Kind)
	require.Equal(t, int32(1), calls.Load(), "invalid_grant must not be retried")
}
