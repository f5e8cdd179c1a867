package chunker

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dgallion1/docprep/internal/doctree"
	"github.com/google/uuid"
)

// Config controls chunking behavior.
type Config struct {
	MaxTokens      int     // Hard upper bound on a chunk's token_count.
	OverlapTokens  int     // Trailing context carried into the next chunk of a section.
	TokenWordRatio float64 // Words per token.
	MinChunkTokens int     // Sections below this are merged with following siblings.
	IncludeHeading bool    // Prefix each chunk with its section heading.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:      1000,
		OverlapTokens:  100,
		TokenWordRatio: 4,
		MinChunkTokens: 50,
		IncludeHeading: true,
	}
}

// ConfigError reports an unusable chunking configuration. It is fatal: no
// document may be chunked with a bad configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunk config: %s %s", e.Field, e.Reason)
}

// Validate checks the configuration and returns a *ConfigError on failure.
func (c Config) Validate() error {
	switch {
	case c.MaxTokens < 1:
		return &ConfigError{Field: "max_tokens", Reason: fmt.Sprintf("must be >= 1, got %d", c.MaxTokens)}
	case c.OverlapTokens < 0:
		return &ConfigError{Field: "overlap_tokens", Reason: fmt.Sprintf("must be >= 0, got %d", c.OverlapTokens)}
	case c.OverlapTokens >= c.MaxTokens:
		return &ConfigError{Field: "overlap_tokens", Reason: fmt.Sprintf("must be < max_tokens (%d), got %d", c.MaxTokens, c.OverlapTokens)}
	case math.IsNaN(c.TokenWordRatio) || math.IsInf(c.TokenWordRatio, 0) || c.TokenWordRatio <= 0:
		return &ConfigError{Field: "token_word_ratio", Reason: fmt.Sprintf("must be a positive number, got %v", c.TokenWordRatio)}
	case c.MinChunkTokens < 0:
		return &ConfigError{Field: "min_chunk_tokens", Reason: fmt.Sprintf("must be >= 0, got %d", c.MinChunkTokens)}
	case wordsForTokens(c.MaxTokens, c.TokenWordRatio) < 1:
		return &ConfigError{Field: "max_tokens", Reason: "holds less than one word at this token_word_ratio"}
	}
	return nil
}

// Fingerprint identifies the settings that shape chunk output. Pages chunked
// under a different fingerprint must be chunked again.
func (c Config) Fingerprint() string {
	key := fmt.Sprintf("max=%d overlap=%d ratio=%s min=%d heading=%t",
		c.MaxTokens, c.OverlapTokens, strconv.FormatFloat(c.TokenWordRatio, 'g', -1, 64),
		c.MinChunkTokens, c.IncludeHeading)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// chunkNamespace seeds deterministic chunk IDs.
var chunkNamespace = uuid.NameSpaceURL

// Chunker turns Documents into ordered, token-bounded chunks. It holds only
// the validated configuration and is safe for concurrent use.
type Chunker struct {
	cfg          Config
	maxWords     int
	overlapWords int
}

// New validates cfg once and returns a Chunker for it.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		cfg:          cfg,
		maxWords:     wordsForTokens(cfg.MaxTokens, cfg.TokenWordRatio),
		overlapWords: wordsForTokens(cfg.OverlapTokens, cfg.TokenWordRatio),
	}, nil
}

// Config returns the configuration the chunker was built with.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk walks doc depth-first in document order and returns its chunks along
// with a warning for every block that had to be split.
func (c *Chunker) Chunk(doc *doctree.Document) ([]doctree.Chunk, []doctree.SplitWarning) {
	r := &run{c: c, doc: doc}

	type frame struct {
		siblings []*doctree.Section
		path     []*doctree.Section
		next     int
	}
	stack := []frame{{siblings: doc.Sections}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.siblings) {
			stack = stack[:len(stack)-1]
			continue
		}
		members := c.takeGroup(top.siblings, &top.next)
		path := top.path
		r.emitGroup(path, members)

		last := members[len(members)-1]
		if len(last.Children) > 0 {
			child := make([]*doctree.Section, len(path), len(path)+1)
			copy(child, path)
			stack = append(stack, frame{siblings: last.Children, path: append(child, last)})
		}
	}
	return r.chunks, r.warnings
}

// takeGroup starts a group at siblings[*next] and extends it forward with
// following siblings while it is undersized, its last member is a leaf, and
// the merged content still fits one chunk.
func (c *Chunker) takeGroup(siblings []*doctree.Section, next *int) []*doctree.Section {
	members := []*doctree.Section{siblings[*next]}
	*next++
	words := sectionWords(members[0])

	for *next < len(siblings) {
		last := members[len(members)-1]
		if tokensForWords(words, c.cfg.TokenWordRatio) >= c.cfg.MinChunkTokens || len(last.Children) > 0 {
			break
		}
		cand := siblings[*next]
		merged := append(members[:len(members):len(members)], cand)
		cw := words + sectionWords(cand)
		if cw+countWords(c.headingLine(merged)) > c.maxWords {
			break
		}
		members = merged
		words = cw
		*next++
	}
	return members
}

// headingLine is the heading context for a group, or "" when headings are
// disabled or would leave no room for content.
func (c *Chunker) headingLine(members []*doctree.Section) string {
	if !c.cfg.IncludeHeading {
		return ""
	}
	headings := make([]string, 0, len(members))
	for _, s := range members {
		if s.Heading != "" {
			headings = append(headings, s.Heading)
		}
	}
	line := strings.Join(headings, " / ")
	if countWords(line) >= c.maxWords {
		return ""
	}
	return line
}

func sectionWords(s *doctree.Section) int {
	n := 0
	for _, b := range s.Blocks {
		n += countWords(b.Text)
	}
	return n
}

// run is the per-document accumulator state. It is never shared between
// documents.
type run struct {
	c        *Chunker
	doc      *doctree.Document
	chunks   []doctree.Chunk
	warnings []doctree.SplitWarning
}

// groupState accumulates the blocks of one section group.
type groupState struct {
	anchorPath   []string
	level        int
	breadcrumb   []string
	merged       []string
	heading      string
	budget       int // words left after the heading
	blocks       []string
	words        int
	overlap      string
	overlapWords int
	hasCode      bool
	carry        []string // body words of the previous chunk in this group
}

func (r *run) emitGroup(path, members []*doctree.Section) {
	lead := members[0]
	for _, m := range members {
		if len(m.Blocks) > 0 {
			lead = m
			break
		}
	}

	g := &groupState{heading: r.c.headingLine(members)}
	g.budget = r.c.maxWords - countWords(g.heading)
	for _, s := range path {
		g.anchorPath = append(g.anchorPath, s.Anchor)
		g.breadcrumb = append(g.breadcrumb, s.Heading)
	}
	g.anchorPath = append(g.anchorPath, lead.Anchor)
	g.level = lead.Level
	for _, m := range members {
		g.breadcrumb = append(g.breadcrumb, m.Heading)
	}
	if len(members) > 1 {
		for _, m := range members {
			g.merged = append(g.merged, m.Anchor)
		}
	}

	for _, m := range members {
		for i, b := range m.Blocks {
			bw := countWords(b.Text)
			if bw > g.budget {
				r.flush(g)
				r.split(g, m.Anchor, i, b)
				continue
			}
			if len(g.blocks) > 0 && g.words+g.overlapWords+bw > g.budget {
				r.flush(g)
			}
			if len(g.blocks) == 0 {
				r.startOverlap(g, g.budget-bw)
			}
			g.blocks = append(g.blocks, b.Text)
			g.words += bw
			g.hasCode = g.hasCode || b.Kind == doctree.KindCode
		}
	}
	r.flush(g)
}

// startOverlap seeds an empty accumulator with trailing words of the
// previous chunk, limited to room words.
func (r *run) startOverlap(g *groupState, room int) {
	n := r.c.overlapWords
	if n > len(g.carry) {
		n = len(g.carry)
	}
	if n > room {
		n = room
	}
	if n <= 0 {
		g.overlap, g.overlapWords = "", 0
		return
	}
	g.overlap = strings.Join(g.carry[len(g.carry)-n:], " ")
	g.overlapWords = n
}

func (r *run) flush(g *groupState) {
	if len(g.blocks) == 0 {
		return
	}
	body := strings.Join(g.blocks, "\n\n")
	r.emit(g, g.overlap, body, 0, 1, g.hasCode)
	g.carry = strings.Fields(body)
	g.blocks = g.blocks[:0]
	g.words = 0
	g.overlap, g.overlapWords = "", 0
	g.hasCode = false
}

func (r *run) split(g *groupState, anchor string, blockIndex int, b doctree.Block) {
	pieces, boundary := splitBlock(b, g.budget)
	for i, p := range pieces {
		r.emit(g, "", p, i, len(pieces), b.Kind == doctree.KindCode)
	}
	r.warnings = append(r.warnings, doctree.SplitWarning{
		Anchor:     anchor,
		BlockIndex: blockIndex,
		Kind:       b.Kind,
		Pieces:     len(pieces),
		Boundary:   boundary,
	})
	g.carry = strings.Fields(pieces[len(pieces)-1])
}

func (r *run) emit(g *groupState, overlap, body string, splitIndex, totalSplits int, hasCode bool) {
	var prefix strings.Builder
	if g.heading != "" {
		prefix.WriteString(g.heading)
		prefix.WriteString("\n\n")
	}
	if overlap != "" {
		prefix.WriteString(overlap)
		prefix.WriteString("\n\n")
	}
	text := prefix.String() + body

	index := len(r.chunks)
	anchor := g.anchorPath[len(g.anchorPath)-1]
	r.chunks = append(r.chunks, doctree.Chunk{
		ID:            chunkID(r.doc.URLFinal, anchor, index),
		SourceURL:     r.doc.URLFinal,
		CitationURL:   r.doc.URLFinal + "#" + anchor,
		Title:         r.doc.Title,
		SectionLevel:  g.level,
		FetchedAt:     r.doc.FetchedAt,
		AnchorPath:    append([]string(nil), g.anchorPath...),
		Breadcrumb:    append([]string(nil), g.breadcrumb...),
		MergedAnchors: append([]string(nil), g.merged...),
		Text:          text,
		TokenCount:    EstimateTokens(text, r.c.cfg.TokenWordRatio),
		Index:         index,
		SplitIndex:    splitIndex,
		TotalSplits:   totalSplits,
		ContextLen:    prefix.Len(),
		HasCode:       hasCode,
	})
}

// chunkID is stable for an unchanged page and configuration.
func chunkID(url, anchor string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(url+"#"+anchor+"|"+strconv.Itoa(index))).String()
}
