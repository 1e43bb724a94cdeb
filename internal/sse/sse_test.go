package sse

import (
	"reflect"
	"testing"
)

func TestFramer_SplitsBlocks(t *testing.T) {
	var f Framer
	evs := f.Feed("event: ping\ndata: {}\n\ndata: one\ndata: two\n\n")
	want := []Event{
		{Event: "ping", Data: "{}"},
		{Event: "", Data: "one\ntwo"},
	}
	if !reflect.DeepEqual(evs, want) {
		t.Errorf("events = %+v, want %+v", evs, want)
	}
}

func TestFramer_PartialChunks(t *testing.T) {
	var f Framer
	if evs := f.Feed("data: hel"); len(evs) != 0 {
		t.Fatalf("premature events: %+v", evs)
	}
	evs := f.Feed("lo\n\n")
	if len(evs) != 1 || evs[0].Data != "hello" {
		t.Errorf("events = %+v", evs)
	}
}

func TestFramer_NormalizesCRLF(t *testing.T) {
	var f Framer
	evs := f.Feed("data: a\r\n\r\ndata: b\r\r")
	if len(evs) != 2 || evs[0].Data != "a" || evs[1].Data != "b" {
		t.Errorf("events = %+v", evs)
	}
}

func TestFramer_NoSpaceAfterColon(t *testing.T) {
	var f Framer
	evs := f.Feed("event:done\ndata:x\n\n")
	if len(evs) != 1 || evs[0].Event != "done" || evs[0].Data != "x" {
		t.Errorf("events = %+v", evs)
	}
}

func TestFramer_DoneSentinelVerbatim(t *testing.T) {
	var f Framer
	evs := f.Feed("data: [DONE]\r\n\r\n")
	if len(evs) != 1 || evs[0].Data != "[DONE]" {
		t.Errorf("sentinel mangled: %+v", evs)
	}
}

func TestFramer_FlushTrailingBlock(t *testing.T) {
	var f Framer
	f.Feed("data: tail")
	evs := f.Flush()
	if len(evs) != 1 || evs[0].Data != "tail" {
		t.Errorf("flush = %+v", evs)
	}
	if evs := f.Flush(); len(evs) != 0 {
		t.Errorf("second flush must be empty: %+v", evs)
	}
}

func feedAll(t *testing.T, a Assembler, datas ...string) (AssembledMessage, bool) {
	t.Helper()
	var out AssembledMessage
	var done bool
	for _, d := range datas {
		if msg, ok := a.Process(Event{Data: d}); ok {
			if done {
				t.Fatal("assembler emitted twice")
			}
			out, done = msg, true
		}
	}
	return out, done
}

func TestAnthropic_TextAndToolUse(t *testing.T) {
	a := NewAnthropicAssembler()
	msg, done := feedAll(t, a,
		`{"type":"message_start","message":{"model":"claude-sonnet-4"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","name":"Bash"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"command\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"ls\"}"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
		`{"type":"message_stop"}`,
	)
	if !done {
		t.Fatal("no emission")
	}
	if msg.Model != "claude-sonnet-4" || msg.StopReason != "tool_use" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.TextContent != "Hello world" {
		t.Errorf("text = %q", msg.TextContent)
	}
	if len(msg.ToolUses) != 1 || msg.ToolUses[0].Name != "Bash" || msg.ToolUses[0].Input != `{"command":"ls"}` {
		t.Errorf("tool uses = %+v", msg.ToolUses)
	}
}

func TestAnthropic_ThinkingNeverExported(t *testing.T) {
	a := NewAnthropicAssembler()
	msg, done := feedAll(t, a,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"secret"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"visible"}}`,
		`{"type":"message_stop"}`,
	)
	if !done || msg.TextContent != "visible" {
		t.Errorf("msg = %+v, done = %v", msg, done)
	}
}

func TestAnthropic_BlocksJoinInIndexOrder(t *testing.T) {
	a := NewAnthropicAssembler()
	msg, done := feedAll(t, a,
		`{"type":"content_block_start","index":2,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":2,"delta":{"type":"text_delta","text":"second"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"first "}}`,
		`{"type":"message_stop"}`,
	)
	if !done || msg.TextContent != "first second" {
		t.Errorf("text = %q", msg.TextContent)
	}
}

func TestAnthropic_ResetsAfterEmit(t *testing.T) {
	a := NewAnthropicAssembler()
	feedAll(t, a,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"one"}}`,
		`{"type":"message_stop"}`,
	)
	msg, done := feedAll(t, a,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"two"}}`,
		`{"type":"message_stop"}`,
	)
	if !done || msg.TextContent != "two" {
		t.Errorf("second turn leaked state: %+v", msg)
	}
}

func TestAnthropic_FinalizePartial(t *testing.T) {
	a := NewAnthropicAssembler()
	a.Process(Event{Data: `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`})
	a.Process(Event{Data: `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`})

	msg, ok := a.Finalize()
	if !ok || msg.TextContent != "partial" {
		t.Errorf("finalize = %+v, %v", msg, ok)
	}
	if _, ok := a.Finalize(); ok {
		t.Error("empty finalize must not emit")
	}
}

func TestOpenAI_ContentAndDone(t *testing.T) {
	o := NewOpenAIAssembler()
	msg, done := feedAll(t, o,
		`{"model":"gpt-5","choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		"[DONE]",
	)
	if !done {
		t.Fatal("no emission on [DONE]")
	}
	if msg.Model != "gpt-5" || msg.StopReason != "stop" || msg.TextContent != "Hello" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestOpenAI_ToolCallsMergeByIndex(t *testing.T) {
	o := NewOpenAIAssembler()
	msg, done := feedAll(t, o,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"shell","arguments":"{\"cmd\""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"ls\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		"[DONE]",
	)
	if !done {
		t.Fatal("no emission")
	}
	if msg.StopReason != "tool_calls" {
		t.Errorf("stop = %q", msg.StopReason)
	}
	if len(msg.ToolUses) != 1 || msg.ToolUses[0].Name != "shell" || msg.ToolUses[0].Input != `{"cmd":"ls"}` {
		t.Errorf("tool uses = %+v", msg.ToolUses)
	}
}

func TestOpenAI_ModelFromFirstCarrier(t *testing.T) {
	o := NewOpenAIAssembler()
	msg, done := feedAll(t, o,
		`{"choices":[{"delta":{"content":"x"}}]}`,
		`{"model":"gpt-5-mini","choices":[{"delta":{"content":"y"}}]}`,
		`{"model":"other","choices":[{"delta":{}}]}`,
		"[DONE]",
	)
	if !done || msg.Model != "gpt-5-mini" {
		t.Errorf("model = %q", msg.Model)
	}
}

func TestOpenAI_MalformedDataSkipped(t *testing.T) {
	o := NewOpenAIAssembler()
	msg, done := feedAll(t, o,
		`not json at all`,
		`{"choices":[{"delta":{"content":"ok"}}]}`,
		"[DONE]",
	)
	if !done || msg.TextContent != "ok" {
		t.Errorf("msg = %+v", msg)
	}
}
