package doctree

import (
	"fmt"
	"time"
)

// FetchMetadata describes how the acquisition side obtained a page.
type FetchMetadata struct {
	FinalURL    string    // URL after redirects, if known
	FetchedAt   time.Time // Zero if unknown
	StatusCode  int
	ContentType string
	Host        string
}

// RawPage is one fetched page handed to the parser. It is read-only.
type RawPage struct {
	SourceURL string
	Content   []byte
	Metadata  FetchMetadata
}

// Document is the parsed, hierarchical form of one page.
type Document struct {
	URLFinal      string     `json:"url_final"`
	Title         string     `json:"title"`
	FetchedAt     string     `json:"fetched_at,omitempty"`
	Sections      []*Section `json:"sections"`
	ParseWarnings []string   `json:"parse_warnings"`
}

// Section is a heading and everything up to the next heading of the same or
// lower level.
type Section struct {
	Level    int        `json:"level"`
	Heading  string     `json:"heading"`
	Anchor   string     `json:"anchor"`
	Blocks   []Block    `json:"blocks"`
	Children []*Section `json:"children"`
}

// BlockKind tags the variant carried by a Block.
type BlockKind string

const (
	KindParagraph  BlockKind = "paragraph"
	KindCode       BlockKind = "code"
	KindList       BlockKind = "list"
	KindTable      BlockKind = "table"
	KindBlockquote BlockKind = "blockquote"
)

// Valid reports whether k is one of the known block kinds.
func (k BlockKind) Valid() bool {
	switch k {
	case KindParagraph, KindCode, KindList, KindTable, KindBlockquote:
		return true
	}
	return false
}

// Block is a single content unit inside a Section.
type Block struct {
	Kind     BlockKind `json:"type"`
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"` // code only
	Ordered  bool      `json:"ordered,omitempty"`  // list only
}

// Chunk is a bounded-size, citable piece of a Document.
type Chunk struct {
	ID            string   `json:"chunk_id"`
	SourceURL     string   `json:"source_url"`
	CitationURL   string   `json:"citation_url"`
	Title         string   `json:"title"`
	SectionLevel  int      `json:"section_level"`
	FetchedAt     string   `json:"fetched_at,omitempty"`
	AnchorPath    []string `json:"anchor_path"`
	Breadcrumb    []string `json:"breadcrumb"`
	MergedAnchors []string `json:"merged_anchors,omitempty"`
	Text          string   `json:"text"`
	TokenCount    int      `json:"token_count"`
	Index         int      `json:"index"`
	SplitIndex    int      `json:"split_index"`
	TotalSplits   int      `json:"total_splits"`
	ContextLen    int      `json:"context_len"` // Bytes of heading/overlap prefix in Text
	HasCode       bool     `json:"has_code"`
}

// Body returns the chunk text without its heading and overlap prefix.
func (c Chunk) Body() string {
	if c.ContextLen <= 0 || c.ContextLen > len(c.Text) {
		return c.Text
	}
	return c.Text[c.ContextLen:]
}

// ParseWarning is a non-fatal problem the parser recovered from.
type ParseWarning struct {
	Kind   string // e.g. "malformed", "duplicate_anchor", "skipped"
	Detail string
}

func (w ParseWarning) String() string {
	return w.Kind + ": " + w.Detail
}

// SplitWarning records that a block had to be cut into several chunks.
type SplitWarning struct {
	Anchor     string    `json:"anchor"`
	BlockIndex int       `json:"block_index"`
	Kind       BlockKind `json:"block_type"`
	Pieces     int       `json:"pieces"`
	Boundary   string    `json:"boundary"` // "line", "sentence" or "word"
}

func (w SplitWarning) String() string {
	return fmt.Sprintf("split %s block %d in #%s into %d pieces at %s boundaries",
		w.Kind, w.BlockIndex, w.Anchor, w.Pieces, w.Boundary)
}

// Walk visits every section in document order without recursion. The
// callback receives the section and its ancestors, outermost first. The
// ancestors slice is only valid during the call.
func (d *Document) Walk(fn func(s *Section, ancestors []*Section)) {
	type frame struct {
		sections []*Section
		next     int
	}
	stack := []frame{{sections: d.Sections}}
	var path []*Section
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.sections) {
			stack = stack[:len(stack)-1]
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
			continue
		}
		s := top.sections[top.next]
		top.next++
		fn(s, path)
		if len(s.Children) > 0 {
			path = append(path, s)
			stack = append(stack, frame{sections: s.Children})
		}
	}
}

// Anchors returns the set of anchors defined in the document.
func (d *Document) Anchors() map[string]bool {
	out := make(map[string]bool)
	d.Walk(func(s *Section, _ []*Section) {
		out[s.Anchor] = true
	})
	return out
}
