// Package vertex implements the Google Vertex AI provider adaptor: a
// service-account JSON credential (creds_file_path) exchanged for an
// access token via golang.org/x/oauth2/google, then relayed against a
// regional Vertex AI publisher-model endpoint. Grounded on the same
// Google-OAuth shape as relay/adaptor/googleoauth, adapted for
// service-account (not user) credentials per Vertex's own auth model.
package vertex

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/Laisky/errors/v2"
	"golang.org/x/oauth2/google"

	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
	"github.com/proxycast/gateway/tokencache"
)

const (
	defaultLocation = "us-central1"
	cloudPlatform   = "https://www.googleapis.com/auth/cloud-platform"
)

// Refresh implements tokencache.Refresher, minting a fresh access token
// from the service-account key file each call (google.JWTAccessTokenSourceFromJSON
// caches internally but ProxyCast's own tokencache fronts the result too).
func Refresh(ctx context.Context, c *model.Credential) (tokencache.RefreshedToken, error) {
	payload, err := c.Payload()
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("invalid vertex credential payload", err)
	}
	if payload.CredsFilePath == "" {
		return tokencache.RefreshedToken{}, apierr.Configuration("vertex credential has no creds_file_path", nil)
	}

	keyData, err := os.ReadFile(payload.CredsFilePath)
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("read vertex service account file", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, keyData, cloudPlatform)
	if err != nil {
		return tokencache.RefreshedToken{}, apierr.Configuration("parse vertex service account json", err)
	}

	tok, err := creds.TokenSource.Token()
	if err != nil {
		return tokencache.RefreshedToken{}, classifyError(err)
	}

	return tokencache.RefreshedToken{AccessToken: tok.AccessToken, ExpiryTime: &tok.Expiry}, nil
}

// ReadSource implements tokencache.SourceReader. Vertex service-account
// tokens are always minted fresh; there is no long-lived refresh_token
// to surface independently of the access token.
func ReadSource(c *model.Credential) (accessToken, refreshToken string, err error) {
	return "", "", nil
}

func classifyError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "invalid_client") {
		return apierr.RefreshInvalidGrant("vertex service account rejected", err)
	}
	if strings.Contains(msg, "Post \"") || strings.Contains(msg, "connect") {
		return apierr.RefreshNetworkError("vertex token endpoint unreachable", err)
	}
	return apierr.RefreshUnknown("vertex refresh failed", err)
}

func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	pool.RegisterProbe(channeltype.Vertex, probe)
	cache.RegisterRefresher(channeltype.Vertex, Refresh)
	cache.RegisterSourceReader(channeltype.Vertex, ReadSource)
}

func probe(ctx context.Context, c *model.Credential) error {
	_, err := Refresh(ctx, c)
	return err
}

func location(payload model.Payload) string {
	if payload.BaseURL != "" {
		return payload.BaseURL
	}
	return defaultLocation
}

// Adaptor implements adaptor.Adaptor, building a Vertex AI
// publisher-model streamGenerateContent/generateContent request scoped
// to the credential's project and region.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "vertex" }

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read vertex credential payload")
	}
	if payload.ProjectID == "" {
		return nil, apierr.Configuration("vertex credential has no project_id", nil)
	}

	loc := location(payload)
	modelName := m.EffectiveModel
	if modelName == "" {
		modelName = m.RequestModel
	}

	action := "generateContent"
	if m.IsStream {
		action = "streamGenerateContent"
	}

	host := loc + "-aiplatform.googleapis.com"
	if loc == "global" {
		host = "aiplatform.googleapis.com"
	}
	url := "https://" + host + "/v1/projects/" + payload.ProjectID + "/locations/" + loc +
		"/publishers/google/models/" + modelName + ":" + action

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build vertex request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
