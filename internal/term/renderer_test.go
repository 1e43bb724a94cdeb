package term

import (
	"strings"
	"testing"
)

func TestRenderText_CursorMovement(t *testing.T) {
	// Overwrite in place: "hello" then CR and "HELLO".
	got := RenderText("hello\rHELLO")
	if got != "HELLO" {
		t.Errorf("got %q", got)
	}
}

func TestRenderText_ColorsDiscarded(t *testing.T) {
	got := RenderText("\x1b[1;31mred\x1b[0m plain")
	if got != "red plain" {
		t.Errorf("got %q", got)
	}
}

func TestRenderText_MultiLine(t *testing.T) {
	got := RenderText("line one\r\nline two\r\n")
	want := "line one\nline two"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderText_WideRunes(t *testing.T) {
	got := RenderText("宽字符 test")
	if got != "宽字符 test" {
		t.Errorf("got %q", got)
	}
}

func TestRenderText_BlankEdgesDropped(t *testing.T) {
	got := RenderText("\r\n\r\n  body  \r\n\r\n")
	if got != "  body" {
		t.Errorf("got %q", got)
	}
}

func TestRender_TallGridKeepsScrolledRows(t *testing.T) {
	r := NewRenderer()
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("row\r\n")
	}
	r.Feed(b.String())
	got := r.Render()
	if n := strings.Count(got, "row"); n != 100 {
		t.Errorf("kept %d rows, want 100", n)
	}
}

func TestStripEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"csi color", "\x1b[32mok\x1b[0m", "ok"},
		{"csi cursor", "\x1b[2J\x1b[Htop", "top"},
		{"osc title bel", "\x1b]0;title\x07body", "body"},
		{"osc title st", "\x1b]2;title\x1b\\body", "body"},
		{"charset switch", "\x1b(Btext", "text"},
		{"keypad modes", "\x1b=\x1b>text", "text"},
		{"control bytes dropped", "a\x08b\x07c", "abc"},
		{"cr dropped", "a\rb", "ab"},
		{"newline and tab kept", "a\n\tb", "a\n\tb"},
		{"plain passthrough", "未修改 text", "未修改 text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripEscapes(tt.in); got != tt.want {
				t.Errorf("StripEscapes(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
