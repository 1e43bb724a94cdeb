// Package richtext converts markdown reply text into the chat service's
// post document tree: {locale: {title, content: [][]element}}. The full
// variant keeps inline styles, links and fenced code blocks; the basic
// variant flattens everything to plain text and links, which is all the
// webhook post surface accepts.
package richtext

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"

	"github.com/zqq-nuli/felay/internal/buffers"
)

// MaxInputBytes caps converter input; longer replies lose their head.
const MaxInputBytes = 28 * 1024

// Element is one inline node of a post paragraph.
type Element struct {
	Tag      string   `json:"tag"`
	Text     string   `json:"text,omitempty"`
	Href     string   `json:"href,omitempty"`
	Style    []string `json:"style,omitempty"`
	Language string   `json:"language,omitempty"`
}

// Paragraph is an ordered run of inline elements.
type Paragraph []Element

// Locale is one language body of a post document.
type Locale struct {
	Title   string      `json:"title"`
	Content []Paragraph `json:"content"`
}

// Document is the post payload keyed by locale.
type Document map[string]Locale

var md = goldmark.New()

// ConvertFull renders markdown with text styles, links and code blocks.
func ConvertFull(title, markdown string) Document {
	return convert(title, markdown, true)
}

// ConvertBasic renders markdown down to text and links only.
func ConvertBasic(title, markdown string) Document {
	return convert(title, markdown, false)
}

func convert(title, markdown string, full bool) Document {
	src := []byte(buffers.TruncateTail(markdown, MaxInputBytes))
	root := md.Parser().Parse(gtext.NewReader(src))

	var content []Paragraph
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		content = append(content, blockParagraphs(n, src, full)...)
	}
	if content == nil {
		content = []Paragraph{}
	}
	return Document{"zh_cn": {Title: title, Content: content}}
}

func blockParagraphs(n ast.Node, src []byte, full bool) []Paragraph {
	switch b := n.(type) {
	case *ast.Heading:
		// Post documents have no heading tag; headings become bold lines.
		els := inlineElements(b, src, []string{"bold"}, full)
		if len(els) == 0 {
			return nil
		}
		return []Paragraph{els}

	case *ast.FencedCodeBlock:
		return []Paragraph{{codeBlockElement(string(b.Language(src)), blockText(b, src), full)}}

	case *ast.CodeBlock:
		return []Paragraph{{codeBlockElement("", blockText(b, src), full)}}

	case *ast.List:
		var out []Paragraph
		for item := b.FirstChild(); item != nil; item = item.NextSibling() {
			out = append(out, listItemParagraphs(item, src, full)...)
		}
		return out

	case *ast.Blockquote:
		var out []Paragraph
		for c := b.FirstChild(); c != nil; c = c.NextSibling() {
			out = append(out, blockParagraphs(c, src, full)...)
		}
		return out

	case *ast.ThematicBreak:
		return nil

	default:
		els := inlineElements(n, src, nil, full)
		if len(els) == 0 {
			return nil
		}
		return []Paragraph{els}
	}
}

// listItemParagraphs renders one list item as its own "- " paragraph.
// Nested blocks inside the item (further lists, code) become paragraphs of
// their own after it.
func listItemParagraphs(item ast.Node, src []byte, full bool) []Paragraph {
	var out []Paragraph
	lead := Paragraph{{Tag: "text", Text: "- "}}
	haveLead := false
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			els := inlineElements(c, src, nil, full)
			if !haveLead {
				out = append(out, append(lead, els...))
				haveLead = true
			} else if len(els) > 0 {
				out = append(out, els)
			}
		default:
			out = append(out, blockParagraphs(c, src, full)...)
		}
	}
	if !haveLead && len(out) == 0 {
		out = append(out, lead)
	}
	return out
}

func inlineElements(n ast.Node, src []byte, styles []string, full bool) []Element {
	var out []Element
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch in := c.(type) {
		case *ast.Text:
			t := string(in.Segment.Value(src))
			if in.SoftLineBreak() || in.HardLineBreak() {
				t += "\n"
			}
			out = appendText(out, t, styles, full)

		case *ast.String:
			out = appendText(out, string(in.Value), styles, full)

		case *ast.Emphasis:
			style := "italic"
			if in.Level >= 2 {
				style = "bold"
			}
			out = append(out, inlineElements(in, src, addStyle(styles, style), full)...)

		case *ast.CodeSpan:
			out = appendText(out, nodeText(in, src), addStyle(styles, "code"), full)

		case *ast.Link:
			out = append(out, Element{Tag: "a", Text: nodeText(in, src), Href: string(in.Destination)})

		case *ast.AutoLink:
			u := string(in.URL(src))
			out = append(out, Element{Tag: "a", Text: u, Href: u})

		case *ast.Image:
			// Inbound posts cannot carry images; keep the alt text.
			out = appendText(out, nodeText(in, src), styles, full)

		default:
			out = append(out, inlineElements(c, src, styles, full)...)
		}
	}
	return out
}

func appendText(els []Element, t string, styles []string, full bool) []Element {
	if t == "" {
		return els
	}
	e := Element{Tag: "text", Text: t}
	if full && len(styles) > 0 {
		e.Style = append([]string(nil), styles...)
	}
	// Merge with a preceding unstyled run to keep paragraphs compact.
	if n := len(els); n > 0 {
		last := &els[n-1]
		if last.Tag == "text" && len(last.Style) == 0 && len(e.Style) == 0 {
			last.Text += t
			return els
		}
	}
	return append(els, e)
}

func codeBlockElement(lang, code string, full bool) Element {
	code = strings.TrimRight(code, "\n")
	if full {
		return Element{Tag: "code_block", Language: lang, Text: code}
	}
	return Element{Tag: "text", Text: code}
}

func addStyle(styles []string, s string) []string {
	for _, have := range styles {
		if have == s {
			return styles
		}
	}
	out := make([]string, 0, len(styles)+1)
	out = append(out, styles...)
	return append(out, s)
}

func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch in := c.(type) {
		case *ast.Text:
			b.Write(in.Segment.Value(src))
		case *ast.String:
			b.Write(in.Value)
		default:
			b.WriteString(nodeText(c, src))
		}
	}
	return b.String()
}
