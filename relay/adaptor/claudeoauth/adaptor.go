// Package claudeoauth implements the Claude-OAuth provider adaptor: a
// Claude.ai/console.anthropic.com OAuth credential relayed against the
// Anthropic Messages API. claude_oauth.rs was not part of the retrieved
// original_source set (only referenced by providers/mod.rs), so this
// adaptor is grounded on the Kiro/Codex/Qwen adaptors' shared
// refresh_token-grant shape plus Anthropic's documented OAuth token
// endpoint and Messages API wire format; see DESIGN.md.
package claudeoauth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Laisky/errors/v2"

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
	tokenURL     = "https://console.anthropic.com/v1/oauth/token"
	apiBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	clientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
)

// Refresh implements tokencache.Refresher.
func Refresh(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
	payload, err := c.Payload()
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("invalid claude_oauth credential payload", err)
	}
	if payload.CredsFilePath == "" {
		return tokencache.RefreshedToken{}, apierr.Configuration("claude_oauth credential has no creds_file_path", nil)
	}

	fields, err := credfile.GetAll(payload.CredsFilePath, "refresh_token")
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("read claude_oauth creds file", err)
	}
	if fields["refresh_token"] == "" {
		return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("claude_oauth credential has no refresh_token", nil)
	}

	reqBody, _ := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": fields["refresh_token"],
		"client_id":     clientID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return tokencache.RefreshedToken{}, errors.Wrap(err, "build claude_oauth refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.RefreshNetworkError("claude_oauth refresh request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("claude_oauth refresh token rejected", nil)
	}
	if resp.StatusCode >= 500 {
		return tokencache.RefreshedToken{}, apierr.RefreshServerError("claude_oauth refresh endpoint error", nil)
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tokencache.RefreshedToken{}, apierr.RefreshUnknown("decode claude_oauth refresh response", err)
	}

	updates := map[string]string{"access_token": out.AccessToken}
	if out.RefreshToken != "" {
		updates["refresh_token"] = out.RefreshToken
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

// Register wires Claude-OAuth's refresher/source-reader/health probe.
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.ClaudeOAuth, probe)
	cache.RegisterRefresher(channeltype.ClaudeOAuth, Refresh)
	cache.RegisterSourceReader(channeltype.ClaudeOAuth, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	_, err := Refresh(ctx, c)
	return err
}

// Adaptor implements adaptor.Adaptor, forwarding the inbound Anthropic
// Messages API body essentially unchanged.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "claude_oauth" }

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build claude_oauth request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("anthropic-beta", "oauth-2025-04-20")
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
