// Package qwen implements the Qwen (Alibaba DashScope) provider adaptor,
// grounded on original_source/src-tauri/src/providers/qwen.rs (read in
// full, 323 lines): form-encoded refresh_token grant against
// chat.qwen.ai, with the returned resource_url overriding the default
// portal.qwen.ai base URL for subsequent requests.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/common/config"
	"github.com/proxycast/gateway/common/httpclient"
	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/adaptor/credfile"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
	"github.com/proxycast/gateway/tokencache"
)

const (
	qwenBaseURL  = "https://portal.qwen.ai/v1"
	qwenTokenURL = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenClientID = "f0304373b74a44d2b584a3fb70ca9e56"
)

func clientID() string {
	if config.QwenOAuthClientID != "" {
		return config.QwenOAuthClientID
	}
	return qwenClientID
}

// baseURL normalizes a resource_url returned by a refresh response into a
// usable https://.../v1 base, mirroring get_base_url's two-step
// normalization (add scheme, ensure /v1 suffix).
func baseURL(resourceURL string) string {
	if resourceURL == "" {
		return qwenBaseURL
	}
	normalized := resourceURL
	if !strings.HasPrefix(normalized, "http") {
		normalized = "https://" + normalized
	}
	if strings.HasSuffix(normalized, "/v1") {
		return normalized
	}
	return normalized + "/v1"
}

// Refresh implements tokencache.Refresher.
func Refresh(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
	payload, err := c.Payload()
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("invalid qwen credential payload", err)
	}
	if payload.CredsFilePath == "" {
		return tokencache.RefreshedToken{}, apierr.Configuration("qwen credential has no creds_file_path", nil)
	}

	fields, err := credfile.GetAll(payload.CredsFilePath, "refresh_token")
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("read qwen creds file", err)
	}
	if fields["refresh_token"] == "" {
		return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("qwen credential has no refresh_token", nil)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {fields["refresh_token"]},
		"client_id":     {clientID()},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, qwenTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokencache.RefreshedToken{}, errors.Wrap(err, "build qwen refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.RefreshNetworkError("qwen refresh request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("qwen refresh token rejected", nil)
	}
	if resp.StatusCode >= 500 {
		return tokencache.RefreshedToken{}, apierr.RefreshServerError("qwen refresh endpoint error", nil)
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ResourceURL  string `json:"resource_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tokencache.RefreshedToken{}, apierr.RefreshUnknown("decode qwen refresh response", err)
	}
	if out.AccessToken == "" {
		return tokencache.RefreshedToken{}, apierr.RefreshUnknown("qwen refresh response missing access_token", nil)
	}

	updates := map[string]string{"access_token": out.AccessToken}
	if out.RefreshToken != "" {
		updates["refresh_token"] = out.RefreshToken
	}
	if out.ResourceURL != "" {
		updates["resource_url"] = out.ResourceURL
	}
	_ = credfile.SetAll(payload.CredsFilePath, updates)

	refreshToken := fields["refresh_token"]
	if out.RefreshToken != "" {
		refreshToken = out.RefreshToken
	}
	return tokencache.RefreshedToken{AccessToken: out.AccessToken, RefreshToken: refreshToken}, nil
}

// ReadSource implements tokencache.SourceReader.
func ReadSource(c *model.Credential) (accessToken, refreshToken string, err error) {
	payload, err := c.Payload()
	if err != nil {
		return "", "", err
	}
	fields, err := credfile.GetAll(payload.CredsFilePath, "access_token", "refresh_token")
	if err != nil {
		return "", "", err
	}
	return fields["access_token"], fields["refresh_token"], nil
}

// Register wires Qwen's refresher/source-reader/health probe.
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.Qwen, probe)
	cache.RegisterRefresher(channeltype.Qwen, Refresh)
	cache.RegisterSourceReader(channeltype.Qwen, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	_, err := Refresh(ctx, c)
	return err
}

// Adaptor implements adaptor.Adaptor for Qwen's OpenAI-compatible chat
// endpoint, forwarded almost unchanged apart from the
// X-DashScope-AuthType header the prior implementation sets on every
// request.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "qwen" }

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read qwen credential payload")
	}
	resourceURL, _ := credfile.Get(payload.CredsFilePath, "resource_url")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(resourceURL)+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build qwen request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-DashScope-AuthType", "qwen-oauth")
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
