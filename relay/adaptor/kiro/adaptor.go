package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"

	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/adaptor"
	"github.com/proxycast/gateway/relay/meta"
)

// Adaptor implements adaptor.Adaptor for Kiro/CodeWhisperer, grounded on
// original_source/src-tauri/src/providers/kiro.rs's request-URL
// construction (generateAssistantResponse). The envelope-building code in
// the prior implementation's command layer was not part of the retrieved
// source set, so the conversationState shape here is built directly from
// AWS CodeWhisperer's documented wire format rather than ported line for
// line; see DESIGN.md.
type Adaptor struct{}

func New() *Adaptor { return &Adaptor{} }

func (*Adaptor) Name() string { return "kiro" }

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
	Model string `json:"model"`
}

type conversationState struct {
	ChatTriggerType string         `json:"chatTriggerType"`
	ConversationID  string         `json:"conversationId"`
	CurrentMessage  currentMessage `json:"currentMessage"`
}

type currentMessage struct {
	UserInputMessage userInputMessage `json:"userInputMessage"`
}

type userInputMessage struct {
	Content         string `json:"content"`
	ModelID         string `json:"modelId"`
	Origin          string `json:"origin"`
}

type envelope struct {
	ConversationState conversationState `json:"conversationState"`
	ProfileArn        string            `json:"profileArn,omitempty"`
}

// BuildRequest flattens the client's chat messages into a single
// userInputMessage.content string (CodeWhisperer has no multi-turn
// envelope of its own the way Anthropic/OpenAI do) and wraps it in a
// conversationState + profileArn envelope per region.
func (*Adaptor) BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error) {
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, errors.Wrap(err, "parse inbound chat request for kiro")
	}

	var content bytes.Buffer
	for _, msg := range in.Messages {
		if s, ok := msg.Content.(string); ok {
			content.WriteString(s)
			content.WriteString("\n")
		}
	}

	payload, err := cred.Payload()
	if err != nil {
		return nil, errors.Wrap(err, "read kiro credential payload")
	}
	fields, _ := profileArn(payload.CredsFilePath)

	env := envelope{
		ConversationState: conversationState{
			ChatTriggerType: "MANUAL",
			ConversationID:  uuid.NewString(),
			CurrentMessage: currentMessage{
				UserInputMessage: userInputMessage{
					Content: content.String(),
					ModelID: in.Model,
					Origin:  "AI_EDITOR",
				},
			},
		},
		ProfileArn: fields,
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal kiro envelope")
	}

	reg, _ := credfileRegion(payload.CredsFilePath)
	url := "https://codewhisperer." + reg + ".amazonaws.com/generateAssistantResponse"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(out))
	if err != nil {
		return nil, errors.Wrap(err, "build kiro request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.amazon.eventstream")
	return req, nil
}

func (*Adaptor) Do(req *http.Request, cred *model.Credential) (*http.Response, error) {
	return adaptor.Send(req, cred)
}
