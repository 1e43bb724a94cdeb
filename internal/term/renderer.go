// Package term turns raw PTY byte streams back into the clean text a user
// would see. The full path drives a headless terminal emulator and reads the
// final grid; a cheaper escape-stripping path covers plain (non-TUI) output.
package term

import (
	"regexp"
	"strings"

	"github.com/hinshun/vt10x"
	"github.com/mattn/go-runewidth"
)

const (
	// DefaultCols matches the grid the CLI host allocates for the PTY.
	DefaultCols = 120

	// DefaultRows is the visible grid plus emulated scrollback. vt10x has
	// no scrollback ring, so a taller grid keeps scrolled rows readable.
	DefaultRows = 50 + 200
)

// Renderer feeds PTY output through a headless terminal emulator.
type Renderer struct {
	term vt10x.Terminal
	cols int
	rows int
}

// NewRenderer allocates an emulator on the default grid.
func NewRenderer() *Renderer {
	return NewRendererSize(DefaultCols, DefaultRows)
}

// NewRendererSize allocates an emulator on a custom grid.
func NewRendererSize(cols, rows int) *Renderer {
	return &Renderer{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

// Feed processes a chunk of raw PTY bytes.
func (r *Renderer) Feed(data string) {
	r.term.Write([]byte(data))
}

// Render reads the grid after all input has been processed: every row with
// trailing spaces trimmed, leading and trailing empty rows dropped.
func (r *Renderer) Render() string {
	r.term.Lock()
	lines := make([]string, r.rows)
	for y := 0; y < r.rows; y++ {
		var b strings.Builder
		skip := 0
		for x := 0; x < r.cols; x++ {
			if skip > 0 {
				skip--
				continue
			}
			ch := r.term.Cell(x, y).Char
			if ch == 0 {
				ch = ' '
			}
			b.WriteRune(ch)
			// A wide rune owns the following cell; its filler must not
			// appear in the text.
			if w := runewidth.RuneWidth(ch); w == 2 {
				skip = 1
			}
		}
		lines[y] = strings.TrimRight(b.String(), " ")
	}
	r.term.Unlock()

	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// RenderText is the one-shot form: feed everything, read the grid once.
func RenderText(data string) string {
	r := NewRenderer()
	r.Feed(data)
	return r.Render()
}

var (
	csiRe     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe     = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)?`)
	charsetRe = regexp.MustCompile(`\x1b[()][0A-Za-z]`)
	escRe     = regexp.MustCompile(`\x1b[@-Z\\^_=><]`)
)

// StripEscapes removes known escape sequences and control bytes from plain
// (non-TUI) output. Newlines and tabs survive; carriage returns do not.
func StripEscapes(s string) string {
	s = oscRe.ReplaceAllString(s, "")
	s = csiRe.ReplaceAllString(s, "")
	s = charsetRe.ReplaceAllString(s, "")
	s = escRe.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r >= 0x20 && r != 0x7f {
			b.WriteRune(r)
		}
	}
	return b.String()
}
