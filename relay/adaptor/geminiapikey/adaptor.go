// Package geminiapikey implements the static-API-key Google Generative
// Language API adaptor: a plain api_key credential relayed against
// generativelanguage.googleapis.com with no refresh step, distinct from
// the OAuth-based relay/adaptor/gemini (Cloud Code) adaptor.
package geminiapikey

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

const defaultBaseURL = "https://generativelanguage.googleapis.com"

func Refresh(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
	payload, err := c.Payload()
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("invalid gemini api key credential payload", err)
	}
	if payload.APIKey == "" {
		return tokencache.RefreshedToken{}, apierr.Configuration("gemini api key credential has no api_key", nil)
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
	pool.RegisterProbe(channeltype.GeminiAPIKey, probe)
	cache.RegisterRefresher(channeltype.GeminiAPIKey, Refresh)
	cache.RegisterSourceReader(channeltype.GeminiAPIKey, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	payload, err := c.Payload()
	if err != nil {
		return apierr.Configuration("invalid gemini api key credential payload", err)
	}
	base := normalizeBase(payload.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1beta/models?key="+payload.APIKey, nil)
	if err != nil {
		return err
	}

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return apierr.Upstream(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apierr.Authentication("gemini api key probe rejected credentials", nil)
	}
	if resp.StatusCode >= 500 {
		return apierr.Upstream(resp.StatusCode, "gemini api key probe upstream error")
	}
	return nil
}

func normalizeBase(base string) string {
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimSuffix(base, "/")
}

// Adaptor implements adaptor.Adaptor, translating a model name into the
// Generative Language API's :generateContent path with the key passed
// as a query parameter, matching the public REST surface.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "gemini_api_key" }

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read gemini api key credential payload")
	}
	model := m.EffectiveModel
	if model == "" {
		model = m.RequestModel
	}
	url := normalizeBase(payload.BaseURL) + "/v1beta/models/" + model + ":generateContent?key=" + accessToken

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build gemini api key request")
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
