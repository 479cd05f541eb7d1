package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown converts markdown source to HTML.
type Markdown interface {
	Convert(source []byte, w io.Writer, opts ...parser.ParseOption) error
}

// NewMarkdown returns the converter used for package descriptions: GFM with
// hard line breaks. Raw HTML in the source is dropped and dangerous link
// schemes are neutralized, so the output is safe to embed as-is.
func NewMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
}

func markdownToHTML(md Markdown, src string) (template.HTML, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	// Output of a non-unsafe goldmark renderer escapes all source text.
	return template.HTML(buf.String()), nil
}
