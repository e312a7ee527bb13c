package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/gwconfig"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
	"github.com/proxycast/gateway/tokencache"
)

var errBuildUpstream = errors.New("boom")

func setupRouterTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Credential{}, &model.TokenCache{}))
	return db
}

func newRouterTestCred(t *testing.T, db *gorm.DB, typ channeltype.Type, name string) *model.Credential {
	c := &model.Credential{Type: typ, Name: name, IsHealthy: true}
	require.NoError(t, db.Create(c).Error)
	return c
}

// fakeAdaptor lets each test script a fixed sequence of responses/errors,
// one per call to Do, so Dispatch's retry loop can be exercised
// deterministically without a real upstream.
type fakeAdaptor struct {
	name       channeltype.Type
	responses  []fakeResponse
	calls      int
	buildErr   error
	buildCalls int
}

type fakeResponse struct {
	status int
	err    error
}

func (f *fakeAdaptor) Name() string { return string(f.name) }

func (f *fakeAdaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	f.buildCalls++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return http.NewRequestWithContext(ctx, http.MethodPost, "http://upstream.invalid/", nil)
}

func (f *fakeAdaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	r := f.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     http.Header{},
	}, nil
}

func newTestRouter(t *testing.T, a adaptor.Adaptor, typ channeltype.Type, cfg gwconfig.Config) (*Router, *credpool.Pool, *gorm.DB) {
	db := setupRouterTestDB(t)
	pool := credpool.New(db)
	cache := tokencache.New(db)
	cache.RegisterRefresher(typ, func(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
		return tokencache.RefreshedToken{AccessToken: "tok-" + c.UUID}, nil
	})
	registry := adaptor.NewRegistry()
	registry.Register(typ, a)
	store := gwconfig.NewStore(cfg)
	return New(pool, cache, registry, store), pool, db
}

func baseTestConfig(provider string) gwconfig.Config {
	cfg := gwconfig.Default()
	cfg.Routing.DefaultProvider = provider
	cfg.Retry.MaxRetries = 2
	cfg.Retry.BaseDelayMs = 1
	cfg.Retry.MaxDelayMs = 2
	cfg.Retry.AutoSwitchProvider = true
	return cfg
}

func TestResolveProviderPrefersEndpointBindingOverRules(t *testing.T) {
	cfg := gwconfig.Default()
	cfg.EndpointProviders = gwconfig.EndpointProvidersConfig{gwconfig.EndpointCursor: "codex"}
	cfg.Routing.Rules = []gwconfig.RoutingRule{{Pattern: "*", Provider: "gemini", Priority: 1}}
	cfg.Routing.DefaultProvider = "qwen"

	got, err := ResolveProvider(cfg, gwconfig.EndpointCursor, "gpt-4")
	require.NoError(t, err)
	require.Equal(t, channeltype.Codex, got)
}

func TestResolveProviderFallsBackToRuleThenDefault(t *testing.T) {
	cfg := gwconfig.Default()
	cfg.Routing.Rules = []gwconfig.RoutingRule{
		{Pattern: "claude-*", Provider: "claude_oauth", Priority: 5},
		{Pattern: "*", Provider: "gemini", Priority: 10},
	}
	cfg.Routing.DefaultProvider = "qwen"

	got, err := ResolveProvider(cfg, gwconfig.EndpointOther, "gpt-4")
	require.NoError(t, err)
	require.Equal(t, channeltype.Gemini, got)

	got, err = ResolveProvider(gwconfig.Config{Routing: gwconfig.RoutingConfig{DefaultProvider: "qwen"}}, gwconfig.EndpointOther, "whatever")
	require.NoError(t, err)
	require.Equal(t, channeltype.Qwen, got)
}

func TestResolveProviderErrorsWhenNothingMatches(t *testing.T) {
	_, err := ResolveProvider(gwconfig.Config{}, gwconfig.EndpointOther, "gpt-4")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.SelectionError, apiErr.Kind)
}

func TestDispatchSwitchesCredentialOnAuthenticationErrorThenSucceeds(t *testing.T) {
	a := &fakeAdaptor{name: channeltype.Gemini, responses: []fakeResponse{
		{status: http.StatusUnauthorized}, // first credential, and its forced re-auth retry
		{status: http.StatusUnauthorized},
		{status: http.StatusOK}, // second credential succeeds
	}}
	cfg := baseTestConfig("gemini")
	r, pool, db := newTestRouter(t, a, channeltype.Gemini, cfg)
	newRouterTestCred(t, db, channeltype.Gemini, "first")
	newRouterTestCred(t, db, channeltype.Gemini, "second")

	m := &meta.Meta{EndpointKey: string(gwconfig.EndpointOther), RequestModel: "gemini-pro"}
	resp, err := r.Dispatch(context.Background(), m, []byte("{}"))
	require.NoError(t, err)
	resp.Body.Close()

	creds, err := pool.All()
	require.NoError(t, err)
	require.Len(t, creds, 2)
}

func TestDispatchMarksQuotaExceededAndCoolsDownCredential(t *testing.T) {
	a := &fakeAdaptor{name: channeltype.Gemini, responses: []fakeResponse{
		{status: http.StatusTooManyRequests},
		{status: http.StatusOK},
	}}
	cfg := baseTestConfig("gemini")
	cfg.QuotaExceeded.CooldownSeconds = 300
	r, pool, db := newTestRouter(t, a, channeltype.Gemini, cfg)
	exhausted := newRouterTestCred(t, db, channeltype.Gemini, "exhausted")
	newRouterTestCred(t, db, channeltype.Gemini, "fresh")

	m := &meta.Meta{EndpointKey: string(gwconfig.EndpointOther), RequestModel: "gemini-pro"}
	resp, err := r.Dispatch(context.Background(), m, []byte("{}"))
	require.NoError(t, err)
	resp.Body.Close()

	got, err := pool.Get(exhausted.UUID)
	require.NoError(t, err)
	require.False(t, got.Selectable(""), "quota-exceeded credential must be in cooldown")
}

func TestDispatchDoesNotSwitchCredentialOnConfigurationError(t *testing.T) {
	a := &fakeAdaptor{name: channeltype.Gemini, buildErr: errBuildUpstream}
	cfg := baseTestConfig("gemini")
	r, _, db := newTestRouter(t, a, channeltype.Gemini, cfg)
	newRouterTestCred(t, db, channeltype.Gemini, "first")
	newRouterTestCred(t, db, channeltype.Gemini, "second")

	m := &meta.Meta{EndpointKey: string(gwconfig.EndpointOther), RequestModel: "gemini-pro"}
	_, err := r.Dispatch(context.Background(), m, []byte("{}"))
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.ConfigurationError, apiErr.Kind)
	require.Equal(t, 1, a.buildCalls, "a non-switchable error must not trigger a retry against another credential")
}

func TestDispatchGivesUpAfterMaxRetriesExhausted(t *testing.T) {
	a := &fakeAdaptor{name: channeltype.Gemini, responses: []fakeResponse{
		{status: http.StatusUnauthorized},
		{status: http.StatusUnauthorized},
		{status: http.StatusUnauthorized},
		{status: http.StatusUnauthorized},
		{status: http.StatusUnauthorized},
		{status: http.StatusUnauthorized},
	}}
	cfg := baseTestConfig("gemini")
	cfg.Retry.MaxRetries = 1
	r, _, db := newTestRouter(t, a, channeltype.Gemini, cfg)
	newRouterTestCred(t, db, channeltype.Gemini, "first")
	newRouterTestCred(t, db, channeltype.Gemini, "second")

	m := &meta.Meta{EndpointKey: string(gwconfig.EndpointOther), RequestModel: "gemini-pro"}
	_, err := r.Dispatch(context.Background(), m, []byte("{}"))
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.AuthenticationError, apiErr.Kind)
}
