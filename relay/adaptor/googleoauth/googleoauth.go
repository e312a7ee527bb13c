// Package googleoauth is the shared Google-Cloud-Code OAuth refresh logic
// behind both the Gemini and Antigravity adaptors: both are "gemini-cli
// family" desktop OAuth apps that refresh against
// https://oauth2.googleapis.com/token and call a cloudcode-pa.googleapis.com
// backend. Grounded on
// original_source/src-tauri/src/providers/antigravity.rs (read in full);
// gemini.rs itself was not part of the retrieved source set, so the Gemini
// adaptor reuses this shared package with its own ClientConfig rather than
// duplicating the refresh logic — see DESIGN.md.
package googleoauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor/credfile"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/tokencache"
)

// ClientConfig carries the per-provider OAuth app identity.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (cc ClientConfig) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       cc.Scopes,
	}
}

// Refresh exchanges the refresh_token stored in the credential's creds
// file for a new access_token via golang.org/x/oauth2/google's standard
// endpoint, persisting the result back to that file.
func Refresh(cc ClientConfig) tokencache.Refresher {
	return func(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
		payload, err := c.Payload()
		if err != nil {
			return tokencache.RefreshedToken{}, apierr.Configuration("invalid credential payload", err)
		}
		if payload.CredsFilePath == "" {
			return tokencache.RefreshedToken{}, apierr.Configuration("credential has no creds_file_path", nil)
		}

		fields, err := credfile.GetAll(payload.CredsFilePath, "refresh_token")
		if err != nil {
			return tokencache.RefreshedToken{}, apierr.Configuration("read creds file", err)
		}
		if fields["refresh_token"] == "" {
			return tokencache.RefreshedToken{}, apierr.RefreshInvalidGrant("credential has no refresh_token", nil)
		}

		src := cc.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: fields["refresh_token"]})
		tok, err := src.Token()
		if err != nil {
			return tokencache.RefreshedToken{}, classifyError(err)
		}

		_ = credfile.Set(payload.CredsFilePath, "access_token", tok.AccessToken)

		var expiry *time.Time
		if !tok.Expiry.IsZero() {
			expiry = &tok.Expiry
		}
		refreshToken := fields["refresh_token"]
		if tok.RefreshToken != "" {
			refreshToken = tok.RefreshToken
		}
		return tokencache.RefreshedToken{AccessToken: tok.AccessToken, RefreshToken: refreshToken, ExpiryTime: expiry}, nil
	}
}

// ReadSource implements tokencache.SourceReader for the truncation
// fallback shared by both adaptors.
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

func classifyError(err error) *apierr.Error {
	var retrieveErr *oauth2.RetrieveError
	if ok := asRetrieveError(err, &retrieveErr); ok {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return apierr.RefreshServerError("google oauth refresh server error", err)
		}
		return apierr.RefreshInvalidGrant("google oauth refresh token rejected", err)
	}
	return apierr.RefreshNetworkError("google oauth refresh request failed", err)
}

func asRetrieveError(err error, target **oauth2.RetrieveError) bool {
	re, ok := err.(*oauth2.RetrieveError)
	if ok {
		*target = re
	}
	return ok
}
