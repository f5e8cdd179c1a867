package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/dgallion1/docprep/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gmparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown pages using goldmark.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(page doctree.RawPage) (*doctree.Document, error) {
	src := page.Content

	md := goldmark.New(
		goldmark.WithExtensions(extension.Table),
		goldmark.WithParserOptions(gmparser.WithAttribute()),
	)
	doc := md.Parser().Parse(text.NewReader(src))

	urlFinal := page.Metadata.FinalURL
	if urlFinal == "" {
		urlFinal = page.SourceURL
	}
	urlFinal = stripFragment(urlFinal)

	title := ""
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			title = normalizeWS(inlineText(h, src))
			break
		}
	}
	if title == "" {
		title = titleFromURL(urlFinal)
	}

	b := newBuilder(title)

	// Headings and blocks only appear at the top level in Markdown.
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			id := ""
			if v, ok := node.AttributeString("id"); ok {
				if bs, ok := v.([]byte); ok {
					id = string(bs)
				}
			}
			b.heading(node.Level, normalizeWS(inlineText(node, src)), id)
		case *ast.Paragraph, *ast.TextBlock:
			b.block(doctree.Block{Kind: doctree.KindParagraph, Text: normalizeWS(inlineText(node, src))})
		case *ast.FencedCodeBlock:
			b.block(doctree.Block{
				Kind:     doctree.KindCode,
				Text:     codeLines(node, src),
				Language: strings.ToLower(string(node.Language(src))),
			})
		case *ast.CodeBlock:
			b.block(doctree.Block{Kind: doctree.KindCode, Text: codeLines(node, src)})
		case *ast.List:
			b.block(doctree.Block{
				Kind:    doctree.KindList,
				Text:    strings.Join(markdownListLines(node, src), "\n"),
				Ordered: node.IsOrdered(),
			})
		case *ast.Blockquote:
			b.block(doctree.Block{Kind: doctree.KindBlockquote, Text: normalizeWS(blockText(node, src))})
		case *east.Table:
			b.block(doctree.Block{Kind: doctree.KindTable, Text: strings.Join(markdownTableLines(node, src), "\n")})
		case *ast.ThematicBreak:
		case *ast.HTMLBlock:
			b.warn("skipped", "raw HTML block")
		default:
			b.warn("skipped", "unrecognized %s block", n.Kind().String())
		}
	}

	return b.document(urlFinal, page.Metadata.FetchedAt)
}

// inlineText renders the inline children of a node as plain text.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.URL(src))
		case *ast.RawHTML, *ast.Image:
		default:
			buf.WriteString(inlineText(c, src))
		}
	}
	return buf.String()
}

// blockText flattens nested blocks (blockquote contents) to text.
func blockText(n ast.Node, src []byte) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
			parts = append(parts, inlineText(c, src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			parts = append(parts, codeLines(c, src))
		default:
			parts = append(parts, blockText(c, src))
		}
	}
	return strings.Join(parts, " ")
}

func codeLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return strings.Trim(buf.String(), "\n")
}

func markdownListLines(list *ast.List, src []byte) []string {
	type frame struct {
		item    ast.Node
		depth   int
		ordered bool
		number  int
	}
	var lines []string
	var stack []frame
	push := func(l *ast.List, depth int) {
		var frames []frame
		num := l.Start
		for item := l.FirstChild(); item != nil; item = item.NextSibling() {
			frames = append(frames, frame{item: item, depth: depth, ordered: l.IsOrdered(), number: num})
			num++
		}
		for i := len(frames) - 1; i >= 0; i-- {
			stack = append(stack, frames[i])
		}
	}
	push(list, 0)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var parts []string
		var nested []*ast.List
		for c := f.item.FirstChild(); c != nil; c = c.NextSibling() {
			if l, ok := c.(*ast.List); ok {
				nested = append(nested, l)
				continue
			}
			parts = append(parts, blockOrInline(c, src))
		}
		if t := normalizeWS(strings.Join(parts, " ")); t != "" {
			marker := "- "
			if f.ordered {
				marker = strconv.Itoa(f.number) + ". "
			}
			lines = append(lines, strings.Repeat("  ", f.depth)+marker+t)
		}
		for i := len(nested) - 1; i >= 0; i-- {
			push(nested[i], f.depth+1)
		}
	}
	return lines
}

func blockOrInline(n ast.Node, src []byte) string {
	switch n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return inlineText(n, src)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return codeLines(n, src)
	}
	return blockText(n, src)
}

func markdownTableLines(t *east.Table, src []byte) []string {
	var lines []string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, normalizeWS(inlineText(cell, src)))
		}
		if strings.TrimSpace(strings.Join(cells, "")) != "" {
			lines = append(lines, strings.Join(cells, " | "))
		}
	}
	return lines
}
