// Package awsevents parses the Kiro/CodeWhisperer AWS Event Stream framing
// into the gateway's unified streaming.Event sequence. Ported behaviorally
// from the prior Rust implementation's aws_event_stream parser: rather than
// decode the real AWS event-stream binary envelope, it scans the raw byte
// stream for complete top-level JSON objects (tracking string/escape
// context so braces inside string literals don't confuse the counter) and
// interprets each one as a CodeWhisperer content chunk.
package awsevents

import (
	"encoding/json"
	"fmt"

	"github.com/proxycast/gateway/relay/streaming"
)

// State is the parser's lifecycle, exposed for diagnostics/metrics.
type State string

const (
	StateIdle    State = "idle"
	StateParsing State = "parsing"
	StateDone    State = "completed"
)

// DefaultMaxBufferSize bounds memory use against a backend that never
// closes a JSON object (spec.md §4.F, §8 test 9 "buffer cap").
const DefaultMaxBufferSize = 1024 * 1024 // 1 MiB

type toolAccumulator struct {
	name       string
	input      string
	blockIndex uint32
}

// Parser is the AWS-event-stream → streaming.Event state machine. It is not
// safe for concurrent use; each in-flight request owns its own Parser.
type Parser struct {
	buffer []byte
	state  State

	toolAccByID map[string]*toolAccumulator

	parseErrorCount int
	maxBufferSize   int

	ctx *blockContextAlias

	messageStarted bool
	messageStopped bool

	inTextBlock    bool
	textBlockIndex *uint32
}

// blockContextAlias avoids exporting streaming's unexported blockContext;
// the parser only needs index allocation and tool-call bookkeeping, which it
// keeps locally instead of depending on streaming internals.
type blockContextAlias struct {
	model     string
	nextIndex uint32
	active    map[string]bool
}

func newCtx(model string) *blockContextAlias {
	return &blockContextAlias{model: model, active: make(map[string]bool)}
}

func (c *blockContextAlias) allocIndex() uint32 {
	idx := c.nextIndex
	c.nextIndex++
	return idx
}

func (c *blockContextAlias) hasActiveToolCalls() bool { return len(c.active) > 0 }

// New creates a parser for a stream whose model name is not yet known.
func New() *Parser { return WithModel("") }

// WithModel creates a parser that tags its synthesized MessageStart with model.
func WithModel(model string) *Parser {
	return &Parser{
		state:         StateIdle,
		toolAccByID:   make(map[string]*toolAccumulator),
		maxBufferSize: DefaultMaxBufferSize,
		ctx:           newCtx(model),
	}
}

// State returns the parser's current lifecycle state.
func (p *Parser) State() State { return p.state }

// ParseErrorCount returns how many malformed JSON objects have been skipped.
func (p *Parser) ParseErrorCount() int { return p.parseErrorCount }

// BufferSize returns the number of unconsumed bytes held for reassembly.
func (p *Parser) BufferSize() int { return len(p.buffer) }

// Process appends bytes to the internal buffer and extracts every complete
// JSON object now available, translating each into zero or more events.
func (p *Parser) Process(chunk []byte) []streaming.Event {
	if len(chunk) == 0 {
		return nil
	}

	if p.state == StateIdle {
		p.state = StateParsing
	}

	if len(p.buffer)+len(chunk) > p.maxBufferSize {
		p.parseErrorCount++
		return []streaming.Event{{
			Kind:         streaming.EventError,
			ErrorType:    "buffer_overflow",
			ErrorMessage: "stream buffer exceeded maximum size",
		}}
	}

	p.buffer = append(p.buffer, chunk...)
	return p.parseBuffer()
}

// Finish flushes any remaining buffered object, closes dangling tool/text
// blocks, and synthesizes a trailing MessageStop if the backend never sent
// one — ensuring clients always see a well-formed event sequence even if
// Kiro's connection drops mid-stream (spec.md §4.F, §8 test 8).
func (p *Parser) Finish() []streaming.Event {
	events := p.parseBuffer()

	hasToolCalls := len(p.toolAccByID) > 0
	for id, acc := range p.toolAccByID {
		if acc.name != "" {
			events = append(events,
				streaming.Event{Kind: streaming.EventToolUseStop, ID: id},
				streaming.Event{Kind: streaming.EventContentBlockStop, Index: acc.blockIndex},
			)
		}
		delete(p.toolAccByID, id)
	}

	if p.textBlockIndex != nil {
		events = append(events, streaming.Event{Kind: streaming.EventContentBlockStop, Index: *p.textBlockIndex})
		p.textBlockIndex = nil
	}

	if p.messageStarted && !p.messageStopped {
		reason := streaming.StopEndTurn
		if hasToolCalls {
			reason = streaming.StopToolUse
		}
		events = append(events, streaming.Event{Kind: streaming.EventMessageStop, StopReason: reason})
		p.messageStopped = true
	}

	p.state = StateDone
	return events
}

func (p *Parser) parseBuffer() []streaming.Event {
	var events []streaming.Event
	pos := 0

	for pos < len(p.buffer) {
		start := findJSONStart(p.buffer, pos)
		if start < 0 {
			break
		}
		raw, end := extractJSONObject(p.buffer, start)
		if raw == nil {
			break // incomplete object, wait for more bytes
		}
		evs, err := p.parseJSONEvent(raw)
		if err != nil {
			p.parseErrorCount++
			events = append(events, streaming.Event{Kind: streaming.EventError, ErrorType: "parse_error", ErrorMessage: err.Error()})
		} else {
			events = append(events, evs...)
		}
		pos = end
	}

	if pos > 0 {
		p.buffer = append([]byte(nil), p.buffer[pos:]...)
	}
	return events
}

func findJSONStart(buf []byte, from int) int {
	for i := from; i < len(buf); i++ {
		if buf[i] == '{' {
			return i
		}
	}
	return -1
}

// extractJSONObject returns the raw bytes of the complete JSON object
// starting at start (brace-balanced, string/escape aware), and the offset
// just past it. Returns (nil, start) if the object isn't complete yet.
func extractJSONObject(buf []byte, start int) ([]byte, int) {
	if start >= len(buf) || buf[start] != '{' {
		return nil, start
	}

	depth := 0
	inString := false
	escapeNext := false

	for i := start; i < len(buf); i++ {
		b := buf[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		switch {
		case b == '\\' && inString:
			escapeNext = true
		case b == '"':
			inString = !inString
		case b == '{' && !inString:
			depth++
		case b == '}' && !inString:
			depth--
			if depth == 0 {
				end := i + 1
				return buf[start:end], end
			}
		}
	}
	return nil, start
}

type chunkPayload struct {
	Content               *string  `json:"content"`
	FollowupPrompt        *string  `json:"followupPrompt"`
	ToolUseID             *string  `json:"toolUseId"`
	Name                  *string  `json:"name"`
	Input                 *string  `json:"input"`
	Stop                  *bool    `json:"stop"`
	Usage                 *float64 `json:"usage"`
	ContextUsagePercentage *float64 `json:"contextUsagePercentage"`
}

func (p *Parser) parseJSONEvent(raw []byte) ([]streaming.Event, error) {
	var v chunkPayload
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}

	var events []streaming.Event

	if !p.messageStarted {
		p.messageStarted = true
		model := p.ctx.model
		if model == "" {
			model = "unknown"
		}
		events = append(events, streaming.Event{Kind: streaming.EventMessageStart, ID: streaming.NewMessageID(), Model: model})
	}

	switch {
	case v.Content != nil:
		if v.FollowupPrompt == nil {
			if !p.inTextBlock {
				p.inTextBlock = true
				idx := p.ctx.allocIndex()
				p.textBlockIndex = &idx
				events = append(events, streaming.Event{Kind: streaming.EventContentBlockStart, Index: idx, BlockType: streaming.BlockText})
			}
			events = append(events, streaming.Event{Kind: streaming.EventTextDelta, Text: *v.Content})
		}

	case v.ToolUseID != nil:
		if p.textBlockIndex != nil {
			events = append(events, streaming.Event{Kind: streaming.EventContentBlockStop, Index: *p.textBlockIndex})
			p.textBlockIndex = nil
			p.inTextBlock = false
		}

		id := *v.ToolUseID
		name := strOrEmpty(v.Name)
		inputChunk := strOrEmpty(v.Input)
		isStop := v.Stop != nil && *v.Stop

		acc, ok := p.toolAccByID[id]
		if !ok {
			acc = &toolAccumulator{}
			p.toolAccByID[id] = acc
		}

		if name != "" && acc.name == "" {
			acc.name = name
			acc.blockIndex = p.ctx.allocIndex()
			p.ctx.active[id] = true
			events = append(events,
				streaming.Event{Kind: streaming.EventContentBlockStart, Index: acc.blockIndex, BlockType: streaming.BlockToolUse, ID: id, ToolName: name},
				streaming.Event{Kind: streaming.EventToolUseStart, ID: id, ToolName: name},
			)
		}

		if inputChunk != "" {
			acc.input += inputChunk
			events = append(events, streaming.Event{Kind: streaming.EventToolUseInputDelta, ID: id, PartialJSON: inputChunk})
		}

		if isStop {
			if finished, ok := p.toolAccByID[id]; ok {
				delete(p.toolAccByID, id)
				delete(p.ctx.active, id)
				events = append(events,
					streaming.Event{Kind: streaming.EventToolUseStop, ID: id},
					streaming.Event{Kind: streaming.EventContentBlockStop, Index: finished.blockIndex},
				)
			}
		}

	case v.Stop != nil && *v.Stop:
		if p.textBlockIndex != nil {
			events = append(events, streaming.Event{Kind: streaming.EventContentBlockStop, Index: *p.textBlockIndex})
			p.textBlockIndex = nil
			p.inTextBlock = false
		}
		reason := streaming.StopEndTurn
		if p.ctx.hasActiveToolCalls() {
			reason = streaming.StopToolUse
		}
		events = append(events, streaming.Event{Kind: streaming.EventMessageStop, StopReason: reason})
		p.messageStopped = true

	case v.Usage != nil:
		events = append(events, streaming.Event{Kind: streaming.EventBackendUsage, Credits: *v.Usage})

	case v.ContextUsagePercentage != nil:
		events = append(events, streaming.Event{Kind: streaming.EventBackendUsage, ContextPercentage: *v.ContextUsagePercentage})
	}

	return events, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
