// Package streaming implements Component F (spec.md §4.F): parsing each
// provider's wire format into the gateway's unified StreamEvent sequence,
// and re-encoding that sequence into the client's requested protocol
// (OpenAI or Anthropic SSE).
package streaming

import "github.com/google/uuid"

// EventKind is the tag of the StreamEvent union (spec.md §3 "StreamEvent").
type EventKind string

const (
	EventMessageStart       EventKind = "message_start"
	EventContentBlockStart  EventKind = "content_block_start"
	EventTextDelta          EventKind = "text_delta"
	EventToolUseStart       EventKind = "tool_use_start"
	EventToolUseInputDelta  EventKind = "tool_use_input_delta"
	EventToolUseStop        EventKind = "tool_use_stop"
	EventContentBlockStop   EventKind = "content_block_stop"
	EventMessageStop        EventKind = "message_stop"
	EventBackendUsage       EventKind = "backend_usage"
	EventError              EventKind = "error"
)

// BlockType is the content-block variant carried by ContentBlockStart.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// StopReason is the closed set of reasons a message stopped.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// Event is the unified tagged event every provider adaptor's parser emits
// and every protocol encoder consumes (spec.md §3 "StreamEvent"). Only the
// fields relevant to Kind are populated; this flattened-struct shape mirrors
// how the teacher's dto package represents provider-specific SSE chunks.
type Event struct {
	Kind EventKind

	// MessageStart
	ID    string
	Model string

	// ContentBlockStart / ContentBlockStop
	Index     uint32
	BlockType BlockType

	// TextDelta
	Text string

	// ToolUseStart / ToolUseInputDelta / ToolUseStop (ID above doubles as tool id)
	ToolName    string
	PartialJSON string

	// MessageStop
	StopReason StopReason

	// BackendUsage
	Credits           float64
	ContextPercentage float64

	// Error
	ErrorType    string
	ErrorMessage string
}

// NewMessageID mints the "msg_<uuid>" identifier used by MessageStart events.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}
