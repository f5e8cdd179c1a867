package parser

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify turns heading text into an anchor. The rule is fixed because
// citations depend on anchors staying stable across re-parses:
//
//   - decompose (NFKD) and drop combining marks, so "Über" becomes "uber"
//   - lowercase
//   - keep letters and digits
//   - whitespace, '-' and '_' separate words with a single '-'
//   - everything else is dropped
//   - no leading or trailing '-'
func Slugify(s string) string {
	// Chained transformers carry state, so build one per call.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			sep = true
		}
	}
	return b.String()
}
