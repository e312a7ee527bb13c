package awsevents

import (
	"math/rand"
	"testing"

	"github.com/proxycast/gateway/relay/streaming"
)

func kindsOf(events []streaming.Event) []streaming.EventKind {
	out := make([]streaming.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestParseContentEvent(t *testing.T) {
	p := WithModel("test-model")
	events := p.Process([]byte(`{"content":"Hello"}`))

	if len(events) < 3 {
		t.Fatalf("expected at least 3 events, got %d: %v", len(events), kindsOf(events))
	}
	if events[0].Kind != streaming.EventMessageStart || events[0].Model != "test-model" {
		t.Fatalf("expected MessageStart{model=test-model}, got %+v", events[0])
	}
	if events[1].Kind != streaming.EventContentBlockStart || events[1].BlockType != streaming.BlockText {
		t.Fatalf("expected ContentBlockStart{Text}, got %+v", events[1])
	}
	if events[2].Kind != streaming.EventTextDelta || events[2].Text != "Hello" {
		t.Fatalf("expected TextDelta{Hello}, got %+v", events[2])
	}
}

func TestParseToolUseEvent(t *testing.T) {
	p := New()

	events := p.Process([]byte(`{"toolUseId":"tool_123","name":"read_file"}`))
	if !containsToolStart(events, "tool_123", "read_file") {
		t.Fatalf("expected ToolUseStart for tool_123, got %v", kindsOf(events))
	}

	events = p.Process([]byte(`{"toolUseId":"tool_123","input":"{\"path\":"}`))
	if !containsInputDelta(events, "tool_123", `{"path":`) {
		t.Fatalf("expected ToolUseInputDelta, got %v", kindsOf(events))
	}

	events = p.Process([]byte(`{"toolUseId":"tool_123","stop":true}`))
	if !containsKindWithID(events, streaming.EventToolUseStop, "tool_123") {
		t.Fatalf("expected ToolUseStop for tool_123, got %v", kindsOf(events))
	}
}

func TestParseStopEvent(t *testing.T) {
	p := New()
	_ = p.Process([]byte(`{"content":"test"}`))
	events := p.Process([]byte(`{"stop":true}`))

	found := false
	for _, e := range events {
		if e.Kind == streaming.EventMessageStop && e.StopReason == streaming.StopEndTurn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MessageStop{EndTurn}, got %v", kindsOf(events))
	}
}

func TestIncrementalParsing(t *testing.T) {
	p := New()

	events := p.Process([]byte(`{"con`))
	if len(events) != 0 {
		t.Fatalf("partial chunk should yield no events, got %v", kindsOf(events))
	}

	events = p.Process([]byte(`tent":"Hello"}`))
	if len(events) == 0 {
		t.Fatalf("expected events once the object completes")
	}
}

func TestBufferOverflowEmitsError(t *testing.T) {
	p := New()
	p.maxBufferSize = 16

	events := p.Process([]byte(`{"content":"this chunk alone exceeds the cap"}`))
	if len(events) != 1 || events[0].Kind != streaming.EventError || events[0].ErrorType != "buffer_overflow" {
		t.Fatalf("expected a single buffer_overflow error event, got %v", events)
	}
}

func TestFinishSynthesizesMessageStopWhenBackendNeverStops(t *testing.T) {
	p := New()
	_ = p.Process([]byte(`{"content":"partial response"}`))

	events := p.Finish()
	found := false
	for _, e := range events {
		if e.Kind == streaming.EventMessageStop {
			found = true
		}
	}
	if !found {
		t.Fatalf("Finish() must synthesize MessageStop if the backend never sent one, got %v", kindsOf(events))
	}
	if p.State() != StateDone {
		t.Fatalf("expected StateDone after Finish(), got %s", p.State())
	}
}

func TestFinishClosesDanglingToolCall(t *testing.T) {
	p := New()
	_ = p.Process([]byte(`{"toolUseId":"tool_1","name":"read_file"}`))
	_ = p.Process([]byte(`{"toolUseId":"tool_1","input":"{}"}`))

	events := p.Finish()
	if !containsKindWithID(events, streaming.EventToolUseStop, "tool_1") {
		t.Fatalf("expected Finish() to close the dangling tool call, got %v", kindsOf(events))
	}
}

// TestArbitraryChunkingProducesSameEventSequence re-splits one canonical
// backend transcript at random byte boundaries and checks the decoded event
// kinds are identical regardless of how the bytes arrived — the central
// property of an incremental, reassembly-based parser (spec.md §8 test 9).
func TestArbitraryChunkingProducesSameEventSequence(t *testing.T) {
	transcript := []byte(`{"content":"Hello, "}{"content":"world"}{"toolUseId":"t1","name":"calc"}{"toolUseId":"t1","input":"{\"x\":1}"}{"toolUseId":"t1","stop":true}{"stop":true}`)

	reference := kindsOf(collect(New(), transcript))

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		p := New()
		var got []streaming.Event
		pos := 0
		for pos < len(transcript) {
			remaining := len(transcript) - pos
			n := 1 + rng.Intn(remaining)
			got = append(got, p.Process(transcript[pos:pos+n])...)
			pos += n
		}
		if got2 := kindsOf(got); !equalKinds(got2, reference) {
			t.Fatalf("trial %d: chunking produced different event kinds\n got: %v\nwant: %v", trial, got2, reference)
		}
	}
}

func collect(p *Parser, data []byte) []streaming.Event {
	return p.Process(data)
}

func equalKinds(a, b []streaming.EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsToolStart(events []streaming.Event, id, name string) bool {
	for _, e := range events {
		if e.Kind == streaming.EventToolUseStart && e.ID == id && e.ToolName == name {
			return true
		}
	}
	return false
}

func containsInputDelta(events []streaming.Event, id, partial string) bool {
	for _, e := range events {
		if e.Kind == streaming.EventToolUseInputDelta && e.ID == id && e.PartialJSON == partial {
			return true
		}
	}
	return false
}

func containsKindWithID(events []streaming.Event, kind streaming.EventKind, id string) bool {
	for _, e := range events {
		if e.Kind == kind && e.ID == id {
			return true
		}
	}
	return false
}
