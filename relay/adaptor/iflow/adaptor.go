// Package iflow implements the iFlow provider adaptor, grounded on
// original_source/src-tauri/src/providers/iflow.rs (read in full, 1579
// lines): a dual-mode credential — either a standard OAuth access_token
// refreshed against iflow.cn/oauth/token, or an imported browser Cookie
// string that carries its own separate expiry and is never "refreshed",
// only re-validated.
package iflow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

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
	tokenURL     = "https://iflow.cn/oauth/token"
	apiBaseURL   = "https://apis.iflow.cn/v1"
	clientID     = "10009311001"
	clientSecret = "4Z3YjXycVsQvyGF1etiNlIBB4RsqSDtW"
)

// Refresh implements tokencache.Refresher. Cookie-mode credentials have no
// refresh step — the cookie is either still within its own
// cookie_expires_at window or it isn't, in which case re-auth is required.
func Refresh(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
	payload, err := c.Payload()
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("invalid iflow credential payload", err)
	}
	if payload.CredsFilePath == "" {
		return tokencache.RefreshedToken{}, apierr.Configuration("iflow credential has no creds_file_path", nil)
	}

	fields, err := credfile.GetAll(payload.CredsFilePath, "auth_type", "cookies", "cookie_expires_at", "refresh_token")
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("read iflow creds file", err)
	}

	if fields["auth_type"] == "cookie" {
		if fields["cookies"] == "" {
			return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("iflow cookie credential has no cookies", nil)
		}
		var expiry *time.Time
		if fields["cookie_expires_at"] != "" {
			if t, err := time.Parse(time.RFC3339, fields["cookie_expires_at"]); err == nil {
				expiry = &t
				if time.Now().After(t) {
					return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("iflow cookie expired, re-import required", nil)
				}
			}
		}
		return tokencache.RefreshedToken{AccessToken: fields["cookies"], ExpiryTime: expiry}, nil
	}

	if fields["refresh_token"] == "" {
		return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("iflow credential has no refresh_token", nil)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {fields["refresh_token"]},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokencache.RefreshedToken{}, errors.Wrap(err, "build iflow refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpclient.Default.Do(req)
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.RefreshNetworkError("iflow refresh request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("iflow refresh token rejected", nil)
	}
	if resp.StatusCode >= 500 {
		return tokencache.RefreshedToken{}, apierr.RefreshServerError("iflow refresh endpoint error", nil)
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tokencache.RefreshedToken{}, apierr.RefreshUnknown("decode iflow refresh response", err)
	}

	updates := map[string]string{"access_token": out.AccessToken}
	if out.RefreshToken != "" {
		updates["refresh_token"] = out.RefreshToken
	}
	_ = credfile.SetAll(payload.CredsFilePath, updates)

	var expiry *time.Time
	if out.ExpiresIn > 0 {
		t := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		expiry = &t
	}
	refreshToken := fields["refresh_token"]
	if out.RefreshToken != "" {
		refreshToken = out.RefreshToken
	}
	return tokencache.RefreshedToken{AccessToken: out.AccessToken, RefreshToken: refreshToken, ExpiryTime: expiry}, nil
}

// ReadSource implements tokencache.SourceReader.
func ReadSource(c *model.Credential) (accessToken, refreshToken string, err error) {
	payload, err := c.Payload()
	if err != nil {
		return "", "", err
	}
	fields, err := credfile.GetAll(payload.CredsFilePath, "auth_type", "cookies", "access_token", "refresh_token")
	if err != nil {
		return "", "", err
	}
	if fields["auth_type"] == "cookie" {
		return fields["cookies"], "", nil
	}
	return fields["access_token"], fields["refresh_token"], nil
}

// Register wires iFlow's refresher/source-reader/health probe.
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.IFlow, probe)
	cache.RegisterRefresher(channeltype.IFlow, Refresh)
	cache.RegisterSourceReader(channeltype.IFlow, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	_, err := Refresh(ctx, c)
	return err
}

// Adaptor implements adaptor.Adaptor. Cookie-mode credentials send the
// token as a raw Cookie header instead of a Bearer token.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "iflow" }

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read iflow credential payload")
	}
	authType, _ := credfile.Get(payload.CredsFilePath, "auth_type")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build iflow request")
	}
	req.Header.Set("Content-Type", "application/json")
	if authType == "cookie" {
		req.Header.Set("Cookie", accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
