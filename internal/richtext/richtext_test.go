package richtext

import (
	"strings"
	"testing"
)

func body(t *testing.T, d Document) Locale {
	t.Helper()
	loc, ok := d["zh_cn"]
	if !ok {
		t.Fatal("missing zh_cn locale")
	}
	return loc
}

func TestConvertFull_Styles(t *testing.T) {
	d := ConvertFull("t", "plain **bold** *italic* `code`")
	loc := body(t, d)
	if len(loc.Content) != 1 {
		t.Fatalf("paragraphs = %d", len(loc.Content))
	}
	p := loc.Content[0]

	var bold, italic, code bool
	for _, e := range p {
		for _, s := range e.Style {
			switch s {
			case "bold":
				bold = e.Text == "bold"
			case "italic":
				italic = e.Text == "italic"
			case "code":
				code = e.Text == "code"
			}
		}
	}
	if !bold || !italic || !code {
		t.Errorf("styles missing: %+v", p)
	}
}

func TestConvertFull_LinkAndCodeBlock(t *testing.T) {
	md := "see [docs](https://example.com)\n\n```go\nfunc main() {}\n```"
	loc := body(t, ConvertFull("t", md))
	if len(loc.Content) != 2 {
		t.Fatalf("paragraphs = %d: %+v", len(loc.Content), loc.Content)
	}

	var link *Element
	for i, e := range loc.Content[0] {
		if e.Tag == "a" {
			link = &loc.Content[0][i]
		}
	}
	if link == nil || link.Text != "docs" || link.Href != "https://example.com" {
		t.Errorf("link paragraph = %+v", loc.Content[0])
	}

	cb := loc.Content[1][0]
	if cb.Tag != "code_block" || cb.Language != "go" || cb.Text != "func main() {}" {
		t.Errorf("code block = %+v", cb)
	}
}

func TestConvertFull_HeadingsAndLists(t *testing.T) {
	md := "# Title\n\n- first\n- second"
	loc := body(t, ConvertFull("t", md))
	if len(loc.Content) != 3 {
		t.Fatalf("paragraphs = %d: %+v", len(loc.Content), loc.Content)
	}

	h := loc.Content[0][0]
	if h.Text != "Title" || len(h.Style) != 1 || h.Style[0] != "bold" {
		t.Errorf("heading = %+v", h)
	}
	for i, want := range []string{"first", "second"} {
		p := loc.Content[i+1]
		if p[0].Text != "- " || p[1].Text != want {
			t.Errorf("list paragraph %d = %+v", i, p)
		}
	}
}

func TestConvertBasic_Flattens(t *testing.T) {
	md := "**bold** and [docs](https://example.com)\n\n```sh\nls\n```"
	loc := body(t, ConvertBasic("t", md))

	for _, p := range loc.Content {
		for _, e := range p {
			if len(e.Style) != 0 {
				t.Errorf("basic variant must strip styles: %+v", e)
			}
			if e.Tag != "text" && e.Tag != "a" {
				t.Errorf("basic variant tag %q not allowed", e.Tag)
			}
		}
	}
	// The code block survives as plain text.
	last := loc.Content[len(loc.Content)-1][0]
	if last.Tag != "text" || last.Text != "ls" {
		t.Errorf("code paragraph = %+v", last)
	}
	// Links survive.
	var found bool
	for _, e := range loc.Content[0] {
		if e.Tag == "a" && e.Href == "https://example.com" {
			found = true
		}
	}
	if !found {
		t.Errorf("link lost: %+v", loc.Content[0])
	}
}

func TestConvert_OversizeInputKeepsTail(t *testing.T) {
	md := strings.Repeat("x", MaxInputBytes+100) + " END"
	loc := body(t, ConvertFull("t", md))
	if len(loc.Content) == 0 {
		t.Fatal("no content")
	}
	joined := ""
	for _, p := range loc.Content {
		for _, e := range p {
			joined += e.Text
		}
	}
	if !strings.HasSuffix(joined, "END") {
		t.Error("tail lost on truncation")
	}
	if !strings.Contains(joined, "...(truncated)") {
		t.Error("missing truncation marker")
	}
}

func TestConvert_EmptyInput(t *testing.T) {
	loc := body(t, ConvertFull("title", ""))
	if loc.Title != "title" {
		t.Errorf("title = %q", loc.Title)
	}
	if loc.Content == nil {
		t.Error("content must be an empty slice, not nil")
	}
}
