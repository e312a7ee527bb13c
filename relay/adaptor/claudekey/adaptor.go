// Package claudekey implements the static-API-key Anthropic adaptor
// (original_source's claude_custom.rs): a plain api_key credential
// relayed against the Anthropic Messages API with no refresh step.
package claudekey

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/common/httpclient"
	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
	"github.com/proxycast/gateway/tokencache"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

func Refresh(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
	payload, err := c.Payload()
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("invalid claude credential payload", err)
	}
	if payload.APIKey == "" {
		return tokencache.RefreshedToken{}, apierr.Configuration("claude credential has no api_key", nil)
	}
	return tokencache.RefreshedToken{AccessToken: payload.APIKey}, nil
}

func ReadSource(c *model.Credential) (accessToken, refreshToken string, err error) {
	payload, err := c.Payload()
	if err != nil {
		return "", "", err
	}
	return payload.APIKey, "", nil
}

func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.ClaudeKey, probe)
	cache.RegisterRefresher(channeltype.ClaudeKey, Refresh)
	cache.RegisterSourceReader(channeltype.ClaudeKey, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	payload, err := c.Payload()
	if err != nil {
		return apierr.Configuration("invalid claude credential payload", err)
	}
	base := normalizeBase(payload.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", payload.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return apierr.Upstream(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apierr.Authentication("claude probe rejected credentials", nil)
	}
	if resp.StatusCode >= 500 {
		return apierr.Upstream(resp.StatusCode, "claude probe upstream error")
	}
	return nil
}

func normalizeBase(base string) string {
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimSuffix(base, "/")
}

type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "claude" }

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read claude credential payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, normalizeBase(payload.BaseURL)+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build claude request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", accessToken)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
