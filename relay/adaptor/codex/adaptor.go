package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/meta"
)

// Adaptor implements adaptor.Adaptor for Codex, translating an inbound
// OpenAI-chat-shaped request into the Responses API body the Codex backend
// expects, per original_source's build_responses_url and its use of
// chatgpt_account_id as the "chatgpt-account-id" header.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "codex" }

type openAIChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
	Stream bool `json:"stream"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model  string           `json:"model"`
	Input  []responsesInput `json:"input"`
	Stream bool             `json:"stream"`
}

func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	var in openAIChatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, errors.Wrap(err, "parse inbound chat request for codex")
	}

	out := responsesRequest{Model: in.Model, Stream: in.Stream}
	for _, msg := range in.Messages {
		content, _ := msg.Content.(string)
		out.Input = append(out.Input, responsesInput{Role: msg.Role, Content: content})
	}

	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read codex credential payload")
	}
	base := payload.BaseURL
	if base == "" {
		base = defaultAPIBase
	}
	url := codexAPIBaseURL
	if payload.APIKey != "" {
		// Direct api.openai.com key-mode credentials bypass the
		// chatgpt.com Codex backend and hit the public Responses API.
		url = buildResponsesURL(base)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "marshal codex responses request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "build codex request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload.APIKey == "" {
		if accountID, err := AccountID(accessToken); err == nil {
			req.Header.Set("chatgpt-account-id", accountID)
		}
	}
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
