package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgallion1/docprep/internal/doctree"
)

// preambleAnchor is the anchor of the synthetic section that holds content
// found before the first heading.
const preambleAnchor = "top"

// builder assembles a Document from a flat stream of headings and blocks.
// Both the HTML and the Markdown parser feed it in document order.
type builder struct {
	title    string
	roots    []*doctree.Section
	stack    []*doctree.Section // open sections, outermost first
	anchors  map[string]bool
	warnings []doctree.ParseWarning
	blocks   int
}

func newBuilder(title string) *builder {
	return &builder{
		title:   title,
		anchors: make(map[string]bool),
	}
}

// heading opens a new section. It nests under the most recent open section
// with a strictly lower level; skipped levels are not filled in.
func (b *builder) heading(level int, text, id string) {
	if text == "" {
		b.warn("skipped", "empty h%d heading", level)
		return
	}
	if level < 1 {
		level = 1
	}

	sec := &doctree.Section{
		Level:    level,
		Heading:  text,
		Anchor:   b.assignAnchor(id, text),
		Blocks:   []doctree.Block{},
		Children: []*doctree.Section{},
	}

	// Pop stack until we find a parent with lower level.
	for len(b.stack) > 0 && b.stack[len(b.stack)-1].Level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	if len(b.stack) > 0 {
		parent := b.stack[len(b.stack)-1]
		parent.Children = append(parent.Children, sec)
	} else {
		b.roots = append(b.roots, sec)
	}
	b.stack = append(b.stack, sec)
}

// block appends a content block to the innermost open section.
func (b *builder) block(blk doctree.Block) {
	if strings.TrimSpace(blk.Text) == "" {
		return
	}
	if !blk.Kind.Valid() {
		b.warn("skipped", "block of unknown type %q", blk.Kind)
		return
	}
	if len(b.stack) == 0 {
		b.openPreamble()
	}
	top := b.stack[len(b.stack)-1]
	top.Blocks = append(top.Blocks, blk)
	b.blocks++
}

func (b *builder) openPreamble() {
	sec := &doctree.Section{
		Level:    1,
		Heading:  b.title,
		Anchor:   b.assignAnchor(preambleAnchor, b.title),
		Blocks:   []doctree.Block{},
		Children: []*doctree.Section{},
	}
	b.roots = append(b.roots, sec)
	b.stack = append(b.stack, sec)
	b.warn("preamble", "content before the first heading placed in section #%s", sec.Anchor)
}

// assignAnchor returns a document-unique anchor, preferring the explicit id
// and otherwise slugging the heading text. Collisions get -2, -3, ... in
// encounter order.
func (b *builder) assignAnchor(id, heading string) string {
	base := strings.TrimSpace(id)
	if base == "" {
		base = Slugify(heading)
	}
	if base == "" {
		base = "section"
	}
	anchor := base
	for n := 2; b.anchors[anchor]; n++ {
		anchor = fmt.Sprintf("%s-%d", base, n)
	}
	if anchor != base {
		b.warn("duplicate_anchor", "%q already used, assigned %q", base, anchor)
	}
	b.anchors[anchor] = true
	return anchor
}

func (b *builder) warn(kind, format string, args ...any) {
	b.warnings = append(b.warnings, doctree.ParseWarning{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
	})
}

// document finalizes the tree. It fails only when nothing usable was found.
func (b *builder) document(urlFinal string, fetchedAt time.Time) (*doctree.Document, error) {
	if len(b.roots) == 0 {
		return nil, &ParseError{URL: urlFinal, Err: ErrNoContent}
	}

	doc := &doctree.Document{
		URLFinal:      urlFinal,
		Title:         b.title,
		Sections:      b.roots,
		ParseWarnings: make([]string, 0, len(b.warnings)),
	}
	if !fetchedAt.IsZero() {
		doc.FetchedAt = fetchedAt.UTC().Format(time.RFC3339)
	}
	for _, w := range b.warnings {
		doc.ParseWarnings = append(doc.ParseWarnings, w.String())
	}
	return doc, nil
}
