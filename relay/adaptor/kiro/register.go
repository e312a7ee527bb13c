package kiro

import (
	"bytes"
	"context"
	"net/http"

	"github.com/proxycast/gateway/common/httpclient"
	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/tokencache"
)

// Register wires Kiro's health probe, refresher, and source reader into
// the shared pool and cache, grounded on
// original_source/src-tauri/src/providers/kiro.rs's
// get_health_check_url/build_health_check_url (same
// generateAssistantResponse endpoint used for real traffic, probed with a
// minimal body).
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.Kiro, probe)
	cache.RegisterRefresher(channeltype.Kiro, Refresh)
	cache.RegisterSourceReader(channeltype.Kiro, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	payload, err := c.Payload()
	if err != nil {
		return apierr.Configuration("invalid kiro credential payload", err)
	}
	reg, _ := credfileRegion(payload.CredsFilePath)
	url := "https://codewhisperer." + reg + ".amazonaws.com/generateAssistantResponse"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return apierr.Upstream(0, err.Error())
	}
	defer resp.Body.Close()

	// A well-formed-but-empty probe body is expected to be rejected with
	// 400; only 401/403 (bad token) or 5xx indicate an unhealthy credential.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apierr.Authentication("kiro probe rejected credentials", nil)
	}
	if resp.StatusCode >= 500 {
		return apierr.Upstream(resp.StatusCode, "kiro probe upstream error")
	}
	return nil
}
