// Package router implements Component E (spec.md §4.E): the
// EndpointRouter that resolves which provider serves a request, selects a
// credential, builds and dispatches the upstream request through the
// matching adaptor, and retries across credentials/providers on transient
// failure. Grounded on the teacher's middleware/distributor.go (provider/
// channel resolution) and controller/relay.go's retry loop (exclude the
// failed channel, try the next, cap attempts at config.RetryTimes),
// generalized from one-api's channel-priority retry to ProxyCast's
// credential-pool + quota-cooldown model (spec.md §10 item 4).
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/Laisky/zap"

	"github.com/proxycast/gateway/common/logger"
	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/gwconfig"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
	"github.com/proxycast/gateway/tokencache"
)

// Router is the request-scoped dispatcher. One Router per process, sharing
// the gateway's pool/cache/adaptor registry/config store.
type Router struct {
	pool     *credpool.Pool
	cache    *tokencache.Cache
	adaptors *adaptor.Registry
	cfg      *gwconfig.Store
}

// New builds a Router over the gateway's shared components.
func New(pool *credpool.Pool, cache *tokencache.Cache, adaptors *adaptor.Registry, cfg *gwconfig.Store) *Router {
	return &Router{pool: pool, cache: cache, adaptors: adaptors, cfg: cfg}
}

// ResolveProvider picks which provider serves ep/requestModel (spec.md §3
// "RoutingConfig"/"EndpointProvidersConfig"): an explicit endpoint binding
// wins outright; otherwise the first matching routing rule in priority
// order; otherwise the configured default provider.
func ResolveProvider(cfg gwconfig.Config, ep gwconfig.EndpointKey, requestModel string) (channeltype.Type, error) {
	if bound, ok := cfg.EndpointProviders[ep]; ok && bound != "" {
		if t, ok := channeltype.Parse(bound); ok {
			return t, nil
		}
	}

	best := -1
	var chosen string
	for _, rule := range cfg.Routing.Rules {
		if !ruleMatches(rule.Pattern, requestModel) {
			continue
		}
		if excluded(cfg.Routing.Exclusions, rule.Provider, requestModel) {
			continue
		}
		if best == -1 || rule.Priority < best {
			best = rule.Priority
			chosen = rule.Provider
		}
	}
	if chosen != "" {
		if t, ok := channeltype.Parse(chosen); ok {
			return t, nil
		}
	}

	if cfg.Routing.DefaultProvider != "" {
		if t, ok := channeltype.Parse(cfg.Routing.DefaultProvider); ok {
			return t, nil
		}
	}

	return "", apierr.Selection("no provider configured for model " + requestModel)
}

func ruleMatches(pattern, modelName string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return pattern == modelName
}

func excluded(exclusions map[string][]string, provider, modelName string) bool {
	for _, m := range exclusions[provider] {
		if m == modelName {
			return true
		}
	}
	return false
}

// Dispatch resolves the provider, selects a credential, builds and sends
// the upstream request, and retries per cfg.Retry up to MaxRetries times
// across distinct credentials/providers (spec.md §4.E, §8 scenarios S2/S3).
// On success it returns the raw *http.Response for the streaming pipeline
// (Component F) or a non-streaming caller to consume; the caller owns
// closing resp.Body.
func (r *Router) Dispatch(ctx context.Context, m *meta.Meta, body []byte) (*http.Response, error) {
	cfg := r.cfg.Get()

	providerType, err := ResolveProvider(cfg, gwconfig.EndpointKey(m.EndpointKey), m.RequestModel)
	if err != nil {
		return nil, err
	}
	m.ProviderType = providerType
	m.EffectiveModel = meta.GetMappedModelName(m.RequestModel, cfg.Routing.ModelAliases)

	a, err := r.adaptors.Get(providerType)
	if err != nil {
		return nil, err
	}

	excludedUUIDs := map[string]bool{}
	maxAttempts := cfg.Retry.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cred, err := r.selectExcluding(providerType, m.EffectiveModel, excludedUUIDs)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		m.CredentialUUID = cred.UUID
		m.RetryCount = attempt

		resp, err := r.attempt(ctx, m, cred, a, body)
		if err == nil {
			_ = r.pool.RecordUsage(cred.UUID)
			return resp, nil
		}

		lastErr = err
		excludedUUIDs[cred.UUID] = true

		apiErr, ok := apierr.As(err)
		if !ok || !switchable(apiErr.Kind) {
			return nil, err
		}
		if !cfg.Retry.AutoSwitchProvider {
			return nil, err
		}

		logger.Logger.Warn("router: attempt failed, retrying with another credential",
			zap.String("provider", string(providerType)), zap.Int("attempt", attempt), zap.Error(err))

		if attempt < maxAttempts-1 {
			backoff(cfg.Retry, attempt)
		}
	}
	return nil, lastErr
}

// attempt runs one credential's full request lifecycle: resolve an access
// token, build and send the request, and classify the result, updating the
// credential's health/quota state as a side effect (spec.md §4.B/§4.C).
func (r *Router) attempt(ctx context.Context, m *meta.Meta, cred *model.Credential, a adaptor.Adaptor, body []byte) (*http.Response, error) {
	token, err := r.cache.GetValidToken(ctx, cred.UUID)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok {
			_ = r.pool.MarkUnhealthyWithDetails(cred.UUID, apiErr)
		}
		return nil, err
	}

	resp, apiErr := r.send(ctx, m, cred, a, token, body)
	if apiErr == nil {
		_ = r.pool.MarkHealthy(cred.UUID)
		return resp, nil
	}

	if apiErr.Kind == apierr.AuthenticationError {
		// One forced-refresh retry before giving up on this credential, per
		// spec.md §8 scenario S2 (401 triggers a single re-auth attempt).
		if _, refreshErr := r.cache.RefreshAndCache(ctx, cred.UUID, true); refreshErr == nil {
			if token2, readErr := r.cache.GetValidToken(ctx, cred.UUID); readErr == nil {
				if resp2, apiErr2 := r.send(ctx, m, cred, a, token2, body); apiErr2 == nil {
					_ = r.pool.MarkHealthy(cred.UUID)
					return resp2, nil
				}
			}
		}
	}

	if apiErr.Kind == apierr.QuotaExceeded {
		cfg := r.cfg.Get()
		_ = r.pool.MarkQuotaExceeded(cred.UUID, time.Duration(cfg.QuotaExceeded.CooldownSeconds)*time.Second)
		return nil, apiErr
	}

	_ = r.pool.MarkUnhealthyWithDetails(cred.UUID, apiErr)
	return nil, apiErr
}

// send performs one BuildRequest+Do round trip and classifies the result
// into the closed apierr taxonomy (spec.md §7).
func (r *Router) send(ctx context.Context, m *meta.Meta, cred *model.Credential, a adaptor.Adaptor, token string, body []byte) (*http.Response, *apierr.Error) {
	req, err := a.BuildRequest(ctx, m, cred, token, body)
	if err != nil {
		return nil, apierr.Configuration("build upstream request", err)
	}

	resp, err := a.Do(req, cred)
	if err != nil {
		return nil, apierr.Upstream(0, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, apierr.Authentication("upstream rejected credentials", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		body, _ := adaptor.ReadAll(resp)
		return nil, apierr.Quota(resp.StatusCode, string(body))
	case resp.StatusCode >= 400:
		respBody, _ := adaptor.ReadAll(resp)
		return nil, apierr.Upstream(resp.StatusCode, string(respBody))
	default:
		return resp, nil
	}
}

func (r *Router) selectExcluding(t channeltype.Type, modelName string, excluded map[string]bool) (*model.Credential, error) {
	cred, _, err := r.pool.SelectHealthy(t, modelName)
	if err != nil {
		return nil, err
	}
	if !excluded[cred.UUID] {
		return cred, nil
	}
	// SelectHealthy round-robins; a handful of re-picks is enough to skip
	// past an already-failed credential without needing a dedicated
	// "exclude" query path in credpool.
	for i := 0; i < 8; i++ {
		cred, _, err := r.pool.SelectHealthy(t, modelName)
		if err != nil {
			return nil, err
		}
		if !excluded[cred.UUID] {
			return cred, nil
		}
	}
	return nil, apierr.Selection("no unexcluded credential available for type " + string(t))
}

// switchable reports whether kind warrants excluding the current credential
// and trying another one, as opposed to a client-side error (validation/
// configuration/selection) that no credential swap can fix.
func switchable(kind apierr.Kind) bool {
	switch kind {
	case apierr.AuthenticationError, apierr.TokenRefreshInvalidGrant,
		apierr.TokenRefreshNetworkError, apierr.TokenRefreshServerError,
		apierr.QuotaExceeded, apierr.UpstreamError:
		return true
	default:
		return false
	}
}

func backoff(rc gwconfig.RetryConfig, attempt int) {
	delay := rc.BaseDelayMs << uint(attempt)
	if rc.MaxDelayMs > 0 && delay > rc.MaxDelayMs {
		delay = rc.MaxDelayMs
	}
	if delay <= 0 {
		return
	}
	time.Sleep(time.Duration(delay) * time.Millisecond)
}
