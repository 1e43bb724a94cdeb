package sse

// ToolUse is one tool invocation carried by an assembled message. Input is
// the accumulated JSON argument text, kept as a string.
type ToolUse struct {
	Name  string
	Input string
}

// AssembledMessage is one completed AI turn, provider differences erased.
type AssembledMessage struct {
	Provider    string
	Model       string
	StopReason  string
	TextContent string
	ToolUses    []ToolUse
}

// Assembler folds a stream of SSE events into assembled messages. Process
// returns a message with done=true when the provider signals end of turn;
// the assembler resets itself afterwards. Finalize drains whatever partial
// state remains when the stream breaks early.
type Assembler interface {
	Process(ev Event) (msg AssembledMessage, done bool)
	Finalize() (msg AssembledMessage, ok bool)
}
