// Package antigravity implements the Antigravity provider adaptor: Google
// Cloud Code OAuth against the sandbox cloudcode-pa backend, grounded on
// original_source/src-tauri/src/providers/antigravity.rs (read in full,
// 985 lines).
package antigravity

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
	baseURLDaily    = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	apiVersion      = "v1internal"
	oauthClientID   = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

var clientConfig = googleoauth.ClientConfig{
	ClientID:     oauthClientID,
	ClientSecret: oauthClientSecret,
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
		"https://www.googleapis.com/auth/cclog",
		"https://www.googleapis.com/auth/experimentsandconfigs",
	},
}

// Register wires Antigravity's refresher/source-reader/health probe.
func Register(pool *credpool.Pool, cache *tokencache.Cache) {
	refresh := googleoauth.Refresh(clientConfig)
	pool.RegisterProbe(channeltype.Antigravity, probe(refresh))
	cache.RegisterRefresher(channeltype.Antigravity, refresh)
	cache.RegisterSourceReader(channeltype.Antigravity, googleoauth.ReadSource)
}

func probe(refresh tokencache.Refresher) func(context.Context, *model.Credential) error {
	return func(ctx context.Context, c *model.Credential) error {
		_, err := refresh(ctx, c)
		return err
	}
}

// Adaptor implements adaptor.Adaptor, translating an inbound chat request
// into the cloudcode-pa v1internal:generateContent envelope.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "antigravity" }

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
	Contents []content `json:"contents"`
}

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, errors.Wrap(err, "parse inbound chat request for antigravity")
	}

	out := generateContentRequest{Model: in.Model}
	for _, msg := range in.Messages {
		text, _ := msg.Content.(string)
		out.Contents = append(out.Contents, content{Role: msg.Role, Parts: []contentPart{{Text: text}}})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "marshal antigravity request")
	}

	url := baseURLDaily + "/" + apiVersion + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "build antigravity request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
