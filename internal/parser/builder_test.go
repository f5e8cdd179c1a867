package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docprep/internal/doctree"
)

func TestBuilder_RejectsUnknownBlockKind(t *testing.T) {
	b := newBuilder("Doc")
	b.heading(1, "Intro", "")
	b.block(doctree.Block{Kind: "image", Text: "diagram.png"})
	b.block(doctree.Block{Kind: doctree.KindParagraph, Text: "kept"})

	doc, err := b.document("https://x.dev/doc", time.Time{})
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	blocks := doc.Sections[0].Blocks
	if len(blocks) != 1 || blocks[0].Text != "kept" {
		t.Errorf("expected only the paragraph, got %+v", blocks)
	}
	if len(doc.ParseWarnings) != 1 || !strings.Contains(doc.ParseWarnings[0], `unknown type "image"`) {
		t.Errorf("expected an unknown-type warning, got %v", doc.ParseWarnings)
	}
}
