package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dgallion1/docprep/internal/doctree"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML documentation pages.
type HTMLParser struct{}

// Boilerplate removed before the walk. Matches are never removed when they
// enclose the main content.
const boilerplateSelector = "script, style, noscript, template, iframe, svg, form, button, " +
	"nav, aside, footer, body > header, " +
	"[role=navigation], [role=banner], [role=contentinfo], [role=search], [aria-hidden=true], " +
	".headerlink, .anchor-link, .hash-link, a.anchor"

var boilerplateClass = regexp.MustCompile(`(?i)(^|[^a-z])(nav|navbar|navigation|menu|sidebar|breadcrumbs?|toc|` +
	`footer|site-header|masthead|banner|cookie|consent|advert|ads?|sponsor|social|share|skip-link)([^a-z]|$)`)

// Media and embeds have no text worth indexing.
var unsupportedTags = map[string]bool{
	"video": true, "audio": true, "canvas": true, "object": true, "embed": true, "math": true,
}

var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "br": true, "cite": true,
	"code": true, "data": true, "del": true, "dfn": true, "em": true, "i": true, "img": true,
	"ins": true, "kbd": true, "mark": true, "q": true, "s": true, "samp": true, "small": true,
	"span": true, "strong": true, "sub": true, "sup": true, "time": true, "u": true, "var": true,
	"wbr": true, "label": true,
}

var paragraphTags = map[string]bool{
	"p": true, "figcaption": true, "summary": true, "address": true, "caption": true,
}

func (p *HTMLParser) Parse(page doctree.RawPage) (*doctree.Document, error) {
	malformed := scanMalformed(page.Content)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Content))
	if err != nil {
		return nil, &ParseError{URL: page.SourceURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	urlFinal := canonicalURL(doc, page)
	title := normalizeWS(doc.Find("head title").First().Text())

	hoistHeadingIDs(doc)
	removed := stripBoilerplate(doc)

	if title == "" {
		title = normalizeWS(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = titleFromURL(urlFinal)
	}

	b := newBuilder(title)
	b.warnings = append(b.warnings, malformed...)
	b.warnings = append(b.warnings, removed...)

	root := contentRoot(doc)
	if root != nil {
		walkHTML(root, b)
	}
	return b.document(urlFinal, page.Metadata.FetchedAt)
}

// canonicalURL picks the citation target: <link rel=canonical> when present,
// else the fetch's final URL, else the source URL.
func canonicalURL(doc *goquery.Document, page doctree.RawPage) string {
	base := page.Metadata.FinalURL
	if base == "" {
		base = page.SourceURL
	}
	href, ok := doc.Find(`link[rel~="canonical"]`).First().Attr("href")
	href = strings.TrimSpace(href)
	if ok && href != "" {
		if b, err := url.Parse(base); err == nil {
			if ref, err := url.Parse(href); err == nil {
				return stripFragment(b.ResolveReference(ref).String())
			}
		}
	}
	return stripFragment(base)
}

// hoistHeadingIDs copies an id from inside a heading (e.g. <a name="x">)
// onto the heading itself, so permalink widgets can be stripped safely.
func hoistHeadingIDs(doc *goquery.Document) {
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, h *goquery.Selection) {
		if id, ok := h.Attr("id"); ok && strings.TrimSpace(id) != "" {
			return
		}
		inner := h.Find("[id], a[name]").First()
		if inner.Length() == 0 {
			return
		}
		id, ok := inner.Attr("id")
		if !ok || strings.TrimSpace(id) == "" {
			id, _ = inner.Attr("name")
		}
		if strings.TrimSpace(id) != "" {
			h.SetAttr("id", id)
		}
	})
}

const headingSelector = "h1, h2, h3, h4, h5, h6"

// stripBoilerplate removes page chrome. Ids only count on elements without
// a heading, since generators derive section ids from heading text
// ("cookie-objects"). Removed elements that held a heading are reported.
func stripBoilerplate(doc *goquery.Document) []doctree.ParseWarning {
	var warnings []doctree.ParseWarning
	remove := func(_ int, s *goquery.Selection) {
		if isProtected(s) {
			return
		}
		if h := s.Find(headingSelector).First(); h.Length() > 0 {
			warnings = append(warnings, doctree.ParseWarning{
				Kind:   "skipped",
				Detail: fmt.Sprintf("boilerplate <%s> with heading %q removed", goquery.NodeName(s), normalizeWS(h.Text())),
			})
		}
		s.Remove()
	}
	doc.Find(boilerplateSelector).Each(remove)
	doc.Find("[class], [id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if class, _ := s.Attr("class"); boilerplateClass.MatchString(class) {
			return true
		}
		id, _ := s.Attr("id")
		return boilerplateClass.MatchString(id) && s.Find(headingSelector).Length() == 0
	}).Each(remove)
	return warnings
}

func isProtected(s *goquery.Selection) bool {
	if s.Is("html, body, main, article, [role=main], " + headingSelector + ", pre, table") {
		return true
	}
	if s.Is("section") && s.Find(headingSelector).Length() > 0 {
		return true
	}
	return s.Find("main, article, [role=main], h1").Length() > 0
}

// contentRoot returns the element the walk starts from.
func contentRoot(doc *goquery.Document) *html.Node {
	if m := doc.Find("main, [role=main]").First(); m.Length() > 0 {
		return m.Get(0)
	}
	if a := doc.Find("article"); a.Length() == 1 {
		return a.Get(0)
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body.Get(0)
	}
	if len(doc.Nodes) > 0 {
		return doc.Nodes[0]
	}
	return nil
}

// workItem is either a single element or a run of inline siblings that
// together form one paragraph.
type workItem struct {
	node   *html.Node
	inline []*html.Node
}

// walkHTML visits the content tree in document order using an explicit stack.
func walkHTML(root *html.Node, b *builder) {
	stack := pushReversed(nil, containerItems(root))
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if it.inline != nil {
			var sb strings.Builder
			for _, n := range it.inline {
				sb.WriteString(textContent(n))
			}
			b.block(doctree.Block{Kind: doctree.KindParagraph, Text: normalizeWS(sb.String())})
			continue
		}

		n := it.node
		if level := headingLevel(n.Data); level > 0 {
			b.heading(level, normalizeWS(textContent(n)), attr(n, "id"))
			continue
		}
		switch {
		case paragraphTags[n.Data]:
			b.block(doctree.Block{Kind: doctree.KindParagraph, Text: normalizeWS(textContent(n))})
		case n.Data == "pre":
			b.block(codeBlock(n))
		case n.Data == "ul" || n.Data == "ol":
			b.block(doctree.Block{
				Kind:    doctree.KindList,
				Text:    strings.Join(listLines(n), "\n"),
				Ordered: n.Data == "ol",
			})
		case n.Data == "dl":
			b.block(doctree.Block{Kind: doctree.KindList, Text: strings.Join(definitionLines(n), "\n")})
		case n.Data == "table":
			b.block(doctree.Block{Kind: doctree.KindTable, Text: strings.Join(tableLines(n), "\n")})
		case n.Data == "blockquote":
			b.block(doctree.Block{Kind: doctree.KindBlockquote, Text: normalizeWS(textContent(n))})
		case unsupportedTags[n.Data]:
			b.warn("skipped", "unsupported <%s> element", n.Data)
		case n.Data == "hr" || n.Data == "img" || n.Data == "input" || n.Data == "select" || n.Data == "textarea":
			// nothing to index
		default:
			stack = pushReversed(stack, containerItems(n))
		}
	}
}

func pushReversed(stack, items []workItem) []workItem {
	for i := len(items) - 1; i >= 0; i-- {
		stack = append(stack, items[i])
	}
	return stack
}

// containerItems splits a container's children into block elements and runs
// of inline content.
func containerItems(n *html.Node) []workItem {
	var items []workItem
	var run []*html.Node
	flush := func() {
		if len(run) > 0 {
			items = append(items, workItem{inline: run})
			run = nil
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			run = append(run, c)
		case html.ElementNode:
			if isInline(c) {
				run = append(run, c)
				continue
			}
			flush()
			items = append(items, workItem{node: c})
		}
	}
	flush()
	return items
}

// isInline reports whether an element can be folded into a paragraph. Inline
// wrappers around block content (<a><h2>..</h2></a>) are treated as containers.
func isInline(n *html.Node) bool {
	if !inlineTags[n.Data] {
		return false
	}
	found := false
	eachDescendant(n, func(d *html.Node) bool {
		if d.Type == html.ElementNode && (headingLevel(d.Data) > 0 || paragraphTags[d.Data] ||
			d.Data == "pre" || d.Data == "ul" || d.Data == "ol" || d.Data == "table" || d.Data == "div") {
			found = true
			return false
		}
		return true
	})
	return !found
}

func codeBlock(pre *html.Node) doctree.Block {
	text := strings.Trim(rawText(pre), "\n")
	return doctree.Block{Kind: doctree.KindCode, Text: text, Language: codeLanguage(pre)}
}

// codeLanguage looks for language hints on <pre>, its <code> child and the
// two enclosing elements (Sphinx puts highlight-xx on a wrapper div).
func codeLanguage(pre *html.Node) string {
	candidates := []*html.Node{pre}
	for c := pre.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			candidates = append([]*html.Node{c}, candidates...)
			break
		}
	}
	for p, i := pre.Parent, 0; p != nil && i < 2; p, i = p.Parent, i+1 {
		candidates = append(candidates, p)
	}
	for _, n := range candidates {
		for _, key := range []string{"data-lang", "data-language"} {
			if v := strings.TrimSpace(attr(n, key)); v != "" {
				return strings.ToLower(v)
			}
		}
		for _, tok := range strings.Fields(attr(n, "class")) {
			lower := strings.ToLower(tok)
			for _, prefix := range []string{"language-", "lang-", "highlight-"} {
				if strings.HasPrefix(lower, prefix) && len(lower) > len(prefix) {
					return lower[len(prefix):]
				}
			}
		}
	}
	return ""
}

// listLines renders a list one item per line, nested items indented by two
// spaces per level.
func listLines(list *html.Node) []string {
	type frame struct {
		items   []*html.Node
		next    int
		depth   int
		ordered bool
		start   int
	}
	newFrame := func(l *html.Node, depth int) frame {
		f := frame{depth: depth, ordered: l.Data == "ol", start: 1}
		if s, err := strconv.Atoi(attr(l, "start")); err == nil {
			f.start = s
		}
		for c := l.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "li" {
				f.items = append(f.items, c)
			}
		}
		return f
	}

	var lines []string
	stack := []frame{newFrame(list, 0)}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.items) {
			stack = stack[:len(stack)-1]
			continue
		}
		li := top.items[top.next]
		marker := "- "
		if top.ordered {
			marker = strconv.Itoa(top.start+top.next) + ". "
		}
		depth := top.depth
		top.next++

		if text := normalizeWS(textContentExcept(li, "ul", "ol")); text != "" {
			lines = append(lines, strings.Repeat("  ", depth)+marker+text)
		}
		var nested []*html.Node
		eachDescendant(li, func(d *html.Node) bool {
			if d.Type == html.ElementNode && (d.Data == "ul" || d.Data == "ol") {
				nested = append(nested, d)
				return false
			}
			return true
		})
		for i := len(nested) - 1; i >= 0; i-- {
			stack = append(stack, newFrame(nested[i], depth+1))
		}
	}
	return lines
}

func definitionLines(dl *html.Node) []string {
	var lines []string
	for c := dl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		text := normalizeWS(textContent(c))
		if text == "" {
			continue
		}
		switch c.Data {
		case "dt":
			lines = append(lines, "- "+text)
		case "dd":
			lines = append(lines, "  "+text)
		}
	}
	return lines
}

// tableLines renders one line per row with cells joined by " | ". Rows of
// nested tables belong to those tables, not this one.
func tableLines(table *html.Node) []string {
	var lines []string
	eachDescendant(table, func(d *html.Node) bool {
		if d == table || d.Type != html.ElementNode {
			return true
		}
		switch d.Data {
		case "table":
			return false
		case "caption":
			if t := normalizeWS(textContent(d)); t != "" {
				lines = append(lines, t)
			}
			return false
		case "tr":
			var cells []string
			for c := d.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, normalizeWS(textContent(c)))
				}
			}
			if strings.TrimSpace(strings.Join(cells, "")) != "" {
				lines = append(lines, strings.Join(cells, " | "))
			}
			return false
		}
		return true
	})
	return lines
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// eachDescendant visits n and its descendants in document order. Returning
// false from fn skips the node's subtree.
func eachDescendant(n *html.Node, fn func(*html.Node) bool) {
	stack := []*html.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			continue
		}
		for c := cur.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
}

// rawText concatenates text nodes verbatim.
func rawText(n *html.Node) string {
	var buf strings.Builder
	eachDescendant(n, func(d *html.Node) bool {
		if d.Type == html.TextNode {
			buf.WriteString(d.Data)
		}
		return true
	})
	return buf.String()
}

// textContent is rawText with <br> turned into a space, for prose.
func textContent(n *html.Node) string {
	return textContentExcept(n)
}

func textContentExcept(n *html.Node, skip ...string) string {
	var buf strings.Builder
	eachDescendant(n, func(d *html.Node) bool {
		switch d.Type {
		case html.TextNode:
			buf.WriteString(d.Data)
		case html.ElementNode:
			if d != n {
				for _, s := range skip {
					if d.Data == s {
						return false
					}
				}
			}
			if d.Data == "br" {
				buf.WriteByte(' ')
			}
		}
		return true
	})
	return buf.String()
}
