package codex

import (
	"context"
	"net/http"

	"github.com/proxycast/gateway/common/httpclient"
	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/tokencache"
)

// Register wires Codex's refresher/source-reader/health probe into the
// shared cache and pool.
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.Codex, probe)
	cache.RegisterRefresher(channeltype.Codex, Refresh)
	cache.RegisterSourceReader(channeltype.Codex, ReadSource)
}

// probe confirms the credential's access token is still accepted by
// listing available models on the public OpenAI API, the cheapest
// unauthenticated-cost call available.
func probe(ctx context.Context, c *model.Credential) error {
	payload, err := c.Payload()
	if err != nil {
		return apierr.Configuration("invalid codex credential payload", err)
	}

	token := payload.APIKey
	if token == "" {
		token, _, err = ReadSource(c)
		if err != nil || token == "" {
			return apierr.Authentication("codex credential has no usable token", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, defaultAPIBase+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return apierr.Upstream(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apierr.Authentication("codex probe rejected credentials", nil)
	}
	if resp.StatusCode >= 500 {
		return apierr.Upstream(resp.StatusCode, "codex probe upstream error")
	}
	return nil
}
