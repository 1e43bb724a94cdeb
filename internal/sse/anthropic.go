package sse

import (
	"encoding/json"
	"sort"
	"strings"
)

// AnthropicAssembler folds the messages-API event stream. Content blocks are
// tracked by index; thinking blocks are accumulated but never exported.
type AnthropicAssembler struct {
	model      string
	stopReason string
	blocks     map[int]*anthropicBlock
}

type anthropicBlock struct {
	kind  string // text, tool_use, thinking
	name  string
	text  strings.Builder
	input strings.Builder
}

// NewAnthropicAssembler creates an empty assembler.
func NewAnthropicAssembler() *AnthropicAssembler {
	return &AnthropicAssembler{blocks: make(map[int]*anthropicBlock)}
}

type anthropicEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		Model string `json:"model"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
}

// Process consumes one framed event. Malformed data is skipped; the stream
// keeps flowing to the client regardless.
func (a *AnthropicAssembler) Process(ev Event) (AssembledMessage, bool) {
	var e anthropicEvent
	if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
		return AssembledMessage{}, false
	}

	switch e.Type {
	case "message_start":
		if e.Message.Model != "" {
			a.model = e.Message.Model
		}

	case "content_block_start":
		b := &anthropicBlock{kind: e.ContentBlock.Type, name: e.ContentBlock.Name}
		b.text.WriteString(e.ContentBlock.Text)
		a.blocks[e.Index] = b

	case "content_block_delta":
		b, ok := a.blocks[e.Index]
		if !ok {
			b = &anthropicBlock{kind: "text"}
			a.blocks[e.Index] = b
		}
		switch e.Delta.Type {
		case "text_delta":
			b.text.WriteString(e.Delta.Text)
		case "input_json_delta":
			b.input.WriteString(e.Delta.PartialJSON)
		case "thinking_delta":
			b.text.WriteString(e.Delta.Thinking)
		}

	case "message_delta":
		if e.Delta.StopReason != "" {
			a.stopReason = e.Delta.StopReason
		}

	case "message_stop":
		msg := a.assemble()
		a.reset()
		return msg, true
	}
	return AssembledMessage{}, false
}

// Finalize emits the partial message when the stream broke before
// message_stop, provided any text was accumulated.
func (a *AnthropicAssembler) Finalize() (AssembledMessage, bool) {
	msg := a.assemble()
	a.reset()
	if msg.TextContent == "" && len(msg.ToolUses) == 0 {
		return AssembledMessage{}, false
	}
	return msg, true
}

func (a *AnthropicAssembler) assemble() AssembledMessage {
	indexes := make([]int, 0, len(a.blocks))
	for i := range a.blocks {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	msg := AssembledMessage{Provider: "anthropic", Model: a.model, StopReason: a.stopReason}
	var text strings.Builder
	for _, i := range indexes {
		b := a.blocks[i]
		switch b.kind {
		case "text":
			text.WriteString(b.text.String())
		case "tool_use":
			msg.ToolUses = append(msg.ToolUses, ToolUse{Name: b.name, Input: b.input.String()})
		}
		// thinking blocks stay internal
	}
	msg.TextContent = text.String()
	return msg
}

func (a *AnthropicAssembler) reset() {
	a.model = ""
	a.stopReason = ""
	a.blocks = make(map[int]*anthropicBlock)
}
