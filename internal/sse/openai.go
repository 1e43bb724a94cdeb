package sse

import (
	"encoding/json"
	"sort"
	"strings"
)

// DoneSentinel terminates OpenAI-style streams. The framer passes it through
// verbatim as a data value.
const DoneSentinel = "[DONE]"

// OpenAIAssembler folds chat-completions chunk streams. Content accumulates
// from choices[0]; tool calls merge by index.
type OpenAIAssembler struct {
	model      string
	stopReason string
	text       strings.Builder
	toolCalls  map[int]*openaiToolCall
}

type openaiToolCall struct {
	name string
	args strings.Builder
}

// NewOpenAIAssembler creates an empty assembler.
func NewOpenAIAssembler() *OpenAIAssembler {
	return &OpenAIAssembler{toolCalls: make(map[int]*openaiToolCall)}
}

type openaiChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int `json:"index"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Process consumes one framed event; the [DONE] sentinel emits.
func (o *OpenAIAssembler) Process(ev Event) (AssembledMessage, bool) {
	if strings.TrimSpace(ev.Data) == DoneSentinel {
		msg := o.assemble()
		o.reset()
		return msg, true
	}

	var c openaiChunk
	if err := json.Unmarshal([]byte(ev.Data), &c); err != nil {
		return AssembledMessage{}, false
	}
	if c.Model != "" && o.model == "" {
		o.model = c.Model
	}
	if len(c.Choices) == 0 {
		return AssembledMessage{}, false
	}
	choice := c.Choices[0]
	o.text.WriteString(choice.Delta.Content)
	for _, tc := range choice.Delta.ToolCalls {
		call, ok := o.toolCalls[tc.Index]
		if !ok {
			call = &openaiToolCall{}
			o.toolCalls[tc.Index] = call
		}
		if call.name == "" {
			call.name = tc.Function.Name
		}
		call.args.WriteString(tc.Function.Arguments)
	}
	if choice.FinishReason != "" {
		o.stopReason = choice.FinishReason
	}
	return AssembledMessage{}, false
}

// Finalize emits the partial message when the stream broke before [DONE].
func (o *OpenAIAssembler) Finalize() (AssembledMessage, bool) {
	msg := o.assemble()
	o.reset()
	if msg.TextContent == "" && len(msg.ToolUses) == 0 {
		return AssembledMessage{}, false
	}
	return msg, true
}

func (o *OpenAIAssembler) assemble() AssembledMessage {
	indexes := make([]int, 0, len(o.toolCalls))
	for i := range o.toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	msg := AssembledMessage{Provider: "openai", Model: o.model, StopReason: o.stopReason, TextContent: o.text.String()}
	for _, i := range indexes {
		call := o.toolCalls[i]
		msg.ToolUses = append(msg.ToolUses, ToolUse{Name: call.name, Input: call.args.String()})
	}
	return msg
}

func (o *OpenAIAssembler) reset() {
	o.model = ""
	o.stopReason = ""
	o.text.Reset()
	o.toolCalls = make(map[int]*openaiToolCall)
}
