// Package sse parses server-sent event streams and assembles the provider
// deltas into one message per completed AI turn.
package sse

import "strings"

// Event is one framed SSE record.
type Event struct {
	Event string
	Data  string
}

// Framer splits an incoming byte stream into SSE events. Feed returns the
// events completed by the chunk; pending partial blocks are buffered until
// the closing blank line arrives.
type Framer struct {
	buf strings.Builder
}

// Feed consumes a chunk and returns the events it completed.
func (f *Framer) Feed(chunk string) []Event {
	f.buf.WriteString(chunk)
	s := normalizeNewlines(f.buf.String())

	var events []Event
	for {
		i := strings.Index(s, "\n\n")
		if i < 0 {
			break
		}
		block := s[:i]
		s = s[i+2:]
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}
	f.buf.Reset()
	f.buf.WriteString(s)
	return events
}

// Flush parses whatever remains buffered, for streams that end without a
// trailing blank line.
func (f *Framer) Flush() []Event {
	s := normalizeNewlines(f.buf.String())
	f.buf.Reset()
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if ev, ok := parseBlock(s); ok {
		return []Event{ev}
	}
	return nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// parseBlock reads the event: and data: fields of one block. Multi-line data
// joins with \n; the [DONE] sentinel rides through as a data value untouched.
func parseBlock(block string) (Event, bool) {
	var ev Event
	var data []string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ev.Event == "" && data == nil {
		return Event{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
