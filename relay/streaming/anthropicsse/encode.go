// Package anthropicsse re-encodes the gateway's unified streaming.Event
// sequence as Anthropic Messages-API server-sent events — the shape
// Claude Code and similar clients expect from /v1/messages.
package anthropicsse

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/relay/streaming"
)

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type messageStartPayload struct {
	Type    string `json:"type"`
	Message struct {
		ID      string         `json:"id"`
		Type    string         `json:"type"`
		Role    string         `json:"role"`
		Model   string         `json:"model"`
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type blockStartPayload struct {
	Type         string       `json:"type"`
	Index        uint32       `json:"index"`
	ContentBlock contentBlock `json:"content_block"`
}

type deltaPayload struct {
	Type  string `json:"type"`
	Index uint32 `json:"index,omitempty"`
	Delta struct {
		Type        string `json:"type,omitempty"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage *usagePayload `json:"usage,omitempty"`
}

type blockStopPayload struct {
	Type  string `json:"type"`
	Index uint32 `json:"index"`
}

type usagePayload struct {
	OutputTokens int `json:"output_tokens,omitempty"`
}

type errorPayload struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Encode translates one unified event into zero or more Anthropic SSE
// frames (a MessageStop also needs a trailing "message_stop" frame with no
// delta, so some event kinds produce two frames).
func Encode(e streaming.Event) ([][]byte, error) {
	switch e.Kind {
	case streaming.EventMessageStart:
		p := messageStartPayload{Type: "message_start"}
		p.Message.ID = e.ID
		p.Message.Type = "message"
		p.Message.Role = "assistant"
		p.Message.Model = e.Model
		p.Message.Content = []contentBlock{}
		return frame("message_start", p)

	case streaming.EventContentBlockStart:
		block := contentBlock{Type: string(e.BlockType)}
		if e.BlockType == streaming.BlockText {
			block.Text = ""
		} else {
			block.ID = e.ID
			block.Name = e.ToolName
		}
		return frame("content_block_start", blockStartPayload{Type: "content_block_start", Index: e.Index, ContentBlock: block})

	case streaming.EventTextDelta:
		p := deltaPayload{Type: "content_block_delta", Index: e.Index}
		p.Delta.Type = "text_delta"
		p.Delta.Text = e.Text
		return frame("content_block_delta", p)

	case streaming.EventToolUseInputDelta:
		p := deltaPayload{Type: "content_block_delta", Index: e.Index}
		p.Delta.Type = "input_json_delta"
		p.Delta.PartialJSON = e.PartialJSON
		return frame("content_block_delta", p)

	case streaming.EventContentBlockStop:
		return frame("content_block_stop", blockStopPayload{Type: "content_block_stop", Index: e.Index})

	case streaming.EventMessageStop:
		p := deltaPayload{Type: "message_delta"}
		p.Delta.StopReason = string(e.StopReason)
		return frame("message_delta", p)

	case streaming.EventBackendUsage:
		p := deltaPayload{Type: "message_delta", Usage: &usagePayload{}}
		return frame("message_delta", p)

	case streaming.EventError:
		p := errorPayload{Type: "error"}
		p.Error.Type = e.ErrorType
		p.Error.Message = e.ErrorMessage
		return frame("error", p)

	case streaming.EventToolUseStart, streaming.EventToolUseStop:
		// Already represented by ContentBlockStart/Stop in this protocol.
		return nil, nil

	default:
		return nil, errors.Errorf("anthropicsse: unhandled event kind %q", e.Kind)
	}
}

func frame(event string, payload any) ([][]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal anthropic sse payload")
	}
	return [][]byte{streaming.SSEFrame(event, data)}, nil
}
