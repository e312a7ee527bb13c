// Package gemini implements the Gemini-CLI-OAuth provider adaptor: Google
// Cloud Code OAuth against the production cloudcode-pa backend. gemini.rs
// itself was not part of the retrieved original_source set (only
// referenced by providers/mod.rs), so this adaptor is grounded on
// antigravity.rs's Google-Cloud-Code OAuth shape (same "gemini-cli family"
// desktop app) via the shared googleoauth package, with Gemini's own
// production (non-sandbox) cloudcode-pa host and the well-known public
// Gemini CLI OAuth client id. See DESIGN.md.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/adaptor/googleoauth"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
	"github.com/proxycast/gateway/tokencache"
)

const (
	cloudCodeBaseURL = "https://cloudcode-pa.googleapis.com"
	apiVersion       = "v1internal"
	oauthClientID    = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

var clientConfig = googleoauth.ClientConfig{
	ClientID:     oauthClientID,
	ClientSecret: oauthClientSecret,
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	},
}

// Register wires Gemini's refresher/source-reader/health probe.
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	refresh := googleoauth.Refresh(clientConfig)
	pool.RegisterProbe(channeltype.Gemini, probe(refresh))
	cache.RegisterRefresher(channeltype.Gemini, refresh)
	cache.RegisterSourceReader(channeltype.Gemini, googleoauth.ReadSource)
}

func probe(refresh tokencache.Refresher) func(context.Context, *model.Credential) error {
	return func(ctx context.Context, c *model.Credential) error {
		_, err := refresh(ctx, c)
		return err
	}
}

// Adaptor implements adaptor.Adaptor for Gemini CLI OAuth credentials.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "gemini" }

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Role  string        `json:"role"`
	Parts []contentPart `json:"parts"`
}

type generateContentRequest struct {
	Model    string    `json:"model"`
	Project  string    `json:"project,omitempty"`
	Contents []content `json:"contents"`
}

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, errors.Wrap(err, "parse inbound chat request for gemini")
	}

	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read gemini credential payload")
	}

	out := generateContentRequest{Model: in.Model, Project: payload.ProjectID}
	for _, msg := range in.Messages {
		text, _ := msg.Content.(string)
		out.Contents = append(out.Contents, content{Role: msg.Role, Parts: []contentPart{{Text: text}}})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "marshal gemini request")
	}

	url := cloudCodeBaseURL + "/" + apiVersion + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "build gemini request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
