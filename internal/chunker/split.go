package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/docprep/internal/doctree"
)

// Boundary names recorded in split warnings.
const (
	boundaryLine     = "line"
	boundarySentence = "sentence"
	boundaryWord     = "word"
)

// splitBlock cuts an oversized block into pieces of at most budget words.
// Pieces are contiguous substrings; concatenated they give back the block
// text exactly. Code and tables are cut between lines, prose between
// sentences, and any unit that is still too large between words.
func splitBlock(b doctree.Block, budget int) ([]string, string) {
	var boundary string
	var units []string
	switch b.Kind {
	case doctree.KindCode, doctree.KindTable:
		boundary = boundaryLine
		units = strings.SplitAfter(b.Text, "\n")
	case doctree.KindParagraph, doctree.KindList, doctree.KindBlockquote:
		boundary = boundarySentence
		units = sentenceUnits(b.Text)
	default:
		boundary = boundaryWord
		units = wordUnits(b.Text)
	}

	pieces, fellBack := pack(units, budget)
	if fellBack {
		boundary = boundaryWord
	}
	return pieces, boundary
}

// pack greedily fills pieces with whole units. A unit larger than budget is
// cut at word boundaries, with any pending whitespace-only prefix attached.
func pack(units []string, budget int) ([]string, bool) {
	var pieces []string
	var cur strings.Builder
	curWords := 0
	fellBack := false

	for _, u := range units {
		if u == "" {
			continue
		}
		uw := countWords(u)
		if curWords+uw <= budget {
			cur.WriteString(u)
			curWords += uw
			continue
		}
		if uw <= budget {
			pieces = append(pieces, cur.String())
			cur.Reset()
			cur.WriteString(u)
			curWords = uw
			continue
		}

		// Unit alone is too large.
		fellBack = true
		prefix := ""
		if curWords > 0 {
			pieces = append(pieces, cur.String())
		} else {
			prefix = cur.String()
		}
		cur.Reset()
		sub, _ := pack(wordUnits(prefix+u), budget)
		pieces = append(pieces, sub[:len(sub)-1]...)
		last := sub[len(sub)-1]
		cur.WriteString(last)
		curWords = countWords(last)
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces, fellBack
}

// sentenceUnits cuts text after '.', '!' or '?' followed by whitespace, and
// after every newline. Each unit keeps its trailing whitespace.
func sentenceUnits(text string) []string {
	var units []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size
		end := false
		switch {
		case r == '\n':
			end = true
		case r == '.' || r == '!' || r == '?':
			if next < len(text) {
				nr, _ := utf8.DecodeRuneInString(text[next:])
				end = unicode.IsSpace(nr)
			}
		}
		i = next
		if !end {
			continue
		}
		for i < len(text) {
			nr, nsize := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(nr) {
				break
			}
			i += nsize
		}
		units = append(units, text[start:i])
		start = i
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}

// wordUnits cuts text into single words, each carrying the whitespace that
// follows it. Leading whitespace stays with the first word.
func wordUnits(text string) []string {
	var units []string
	start := 0
	inWord := false
	seenWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && !inWord {
			if seenWord {
				units = append(units, text[start:i])
				start = i
			}
			seenWord = true
		}
		inWord = !space
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}
