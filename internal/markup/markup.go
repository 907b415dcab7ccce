// Package markup inspects and renders the markdown bodies produced by providers.
package markup

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var hrefRe = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)

// Analysis is the plain-text view of a markdown document.
type Analysis struct {
	Text           string
	Words          int
	Links          []string
	Headings       []string
	FirstParagraph string
}

// Analyze parses body as markdown and returns its stripped text, word count,
// link destinations and headings.
func Analyze(body string) Analysis {
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	var (
		buf      strings.Builder
		links    []string
		headings []string
		first    string
	)

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if n.Type() == ast.TypeBlock {
			buf.WriteByte(' ')
		}
		if !entering {
			return ast.WalkContinue, nil
		}

		switch v := n.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		case *ast.Link:
			links = append(links, string(v.Destination))
		case *ast.AutoLink:
			links = append(links, string(v.URL(src)))
		case *ast.RawHTML:
			for i := 0; i < v.Segments.Len(); i++ {
				seg := v.Segments.At(i)
				links = append(links, hrefs(seg.Value(src))...)
			}
		case *ast.HTMLBlock:
			links = append(links, hrefs(linesOf(v, src))...)
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			buf.Write(linesOf(v, src))
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			headings = append(headings, nodeText(v, src))
		case *ast.Paragraph:
			if first == "" {
				first = nodeText(v, src)
			}
		}
		return ast.WalkContinue, nil
	})

	stripped := strings.Join(strings.Fields(buf.String()), " ")
	return Analysis{
		Text:           stripped,
		Words:          CountWords(stripped),
		Links:          links,
		Headings:       headings,
		FirstParagraph: first,
	}
}

// Strip returns body with markdown syntax removed and whitespace collapsed.
func Strip(body string) string {
	return Analyze(body).Text
}

// CountWords counts whitespace separated tokens that contain at least one
// letter or digit.
func CountWords(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		if strings.IndexFunc(f, isWordRune) >= 0 {
			n++
		}
	}
	return n
}

// Render converts markdown to HTML.
func Render(body string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func hrefs(b []byte) []string {
	var out []string
	for _, m := range hrefRe.FindAllSubmatch(b, -1) {
		out = append(out, string(m[1]))
	}
	return out
}

func linesOf(n ast.Node, src []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func nodeText(n ast.Node, src []byte) string {
	var buf strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(buf.String()), " ")
}
