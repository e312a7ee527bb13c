// Package openaikey implements the static-API-key OpenAI adaptor
// (original_source's openai_custom.rs: a plain api_key credential with no
// refresh step). The "Refresher" is a pass-through that returns the
// stored key unchanged; tokencache still fronts it so the rest of the
// pipeline (GetValidToken, health probing) doesn't need a separate
// code path for key-based credentials.
package openaikey

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

const defaultBaseURL = "https://api.openai.com/v1"

// Refresh implements tokencache.Refresher as a pass-through.
func Refresh(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
	payload, err := c.Payload()
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("invalid openai credential payload", err)
	}
	if payload.APIKey == "" {
		return tokencache.RefreshedToken{}, apierr.Configuration("openai credential has no api_key", nil)
	}
	return tokencache.RefreshedToken{AccessToken: payload.APIKey}, nil
}

// ReadSource implements tokencache.SourceReader as a pass-through.
func ReadSource(c *model.Credential) (accessToken, refreshToken string, err error) {
	payload, err := c.Payload()
	if err != nil {
		return "", "", err
	}
	return payload.APIKey, "", nil
}

// Register wires the OpenAI key adaptor's refresher/source-reader/probe.
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.OpenAIKey, probe)
	cache.RegisterRefresher(channeltype.OpenAIKey, Refresh)
	cache.RegisterSourceReader(channeltype.OpenAIKey, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	payload, err := c.Payload()
	if err != nil {
		return apierr.Configuration("invalid openai credential payload", err)
	}
	base := normalizeBase(payload.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+payload.APIKey)

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return apierr.Upstream(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apierr.Authentication("openai probe rejected credentials", nil)
	}
	if resp.StatusCode >= 500 {
		return apierr.Upstream(resp.StatusCode, "openai probe upstream error")
	}
	return nil
}

func normalizeBase(base string) string {
	if base == "" {
		return defaultBaseURL
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

// Adaptor implements adaptor.Adaptor, forwarding the inbound request
// unchanged to an OpenAI-compatible /v1/chat/completions endpoint.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "openai" }

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read openai credential payload")
	}
	url := normalizeBase(payload.BaseURL) + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build openai request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
