// Package openaisse re-encodes the gateway's unified streaming.Event
// sequence as OpenAI chat-completion-chunk server-sent events, the shape
// Cursor/Windsurf/OpenAI-compatible clients expect from /v1/chat/completions.
package openaisse

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/relay/streaming"
)

type delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type choice struct {
	Index        int    `json:"index"`
	Delta        delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type chunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model,omitempty"`
	Choices []choice `json:"choices"`
}

// state tracks the single-choice assumption OpenAI-compatible clients make
// of this gateway (no n>1 fan-out) and the running (index -> tool-call-index)
// map needed because OpenAI numbers tool calls densely from 0 while the
// unified event stream numbers content blocks including text blocks.
type state struct {
	messageID    string
	model        string
	toolCallSeq  map[uint32]int
	nextToolIdx  int
}

// New returns fresh per-stream encoder state.
func New() *state {
	return &state{toolCallSeq: make(map[uint32]int)}
}

// Encode translates one unified event into zero or more OpenAI SSE frames.
func (s *state) Encode(e streaming.Event) ([][]byte, error) {
	switch e.Kind {
	case streaming.EventMessageStart:
		s.messageID = e.ID
		s.model = e.Model
		return s.frame(choice{Index: 0, Delta: delta{Role: "assistant"}})

	case streaming.EventTextDelta:
		return s.frame(choice{Index: 0, Delta: delta{Content: e.Text}})

	case streaming.EventToolUseStart:
		idx, ok := s.toolCallSeq[e.Index]
		if !ok {
			idx = s.nextToolIdx
			s.nextToolIdx++
			s.toolCallSeq[e.Index] = idx
		}
		tc := toolCall{Index: idx, ID: e.ID, Type: "function"}
		tc.Function.Name = e.ToolName
		return s.frame(choice{Index: 0, Delta: delta{ToolCalls: []toolCall{tc}}})

	case streaming.EventToolUseInputDelta:
		idx := s.toolCallSeq[e.Index]
		tc := toolCall{Index: idx}
		tc.Function.Arguments = e.PartialJSON
		return s.frame(choice{Index: 0, Delta: delta{ToolCalls: []toolCall{tc}}})

	case streaming.EventMessageStop:
		return s.frame(choice{Index: 0, Delta: delta{}, FinishReason: finishReason(e.StopReason)})

	case streaming.EventContentBlockStart, streaming.EventContentBlockStop,
		streaming.EventToolUseStop, streaming.EventBackendUsage:
		// No OpenAI-protocol equivalent; these are structural/telemetry-only.
		return nil, nil

	case streaming.EventError:
		return nil, errors.Errorf("openaisse: upstream error %s: %s", e.ErrorType, e.ErrorMessage)

	default:
		return nil, errors.Errorf("openaisse: unhandled event kind %q", e.Kind)
	}
}

func finishReason(r streaming.StopReason) string {
	switch r {
	case streaming.StopMaxTokens:
		return "length"
	case streaming.StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

func (s *state) frame(c choice) ([][]byte, error) {
	payload := chunk{ID: s.messageID, Object: "chat.completion.chunk", Model: s.model, Choices: []choice{c}}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal openai sse payload")
	}
	return [][]byte{streaming.SSEFrame("", data)}, nil
}
