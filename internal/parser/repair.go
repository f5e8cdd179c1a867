package parser

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/dgallion1/docprep/internal/doctree"
	"golang.org/x/net/html"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true, "source": true,
	"track": true, "wbr": true, "keygen": true,
}

// Elements whose end tag may legally be omitted.
var optionalEndTag = map[string]bool{
	"html": true, "head": true, "body": true, "p": true, "li": true, "dt": true, "dd": true,
	"tr": true, "td": true, "th": true, "thead": true, "tbody": true, "tfoot": true,
	"option": true, "optgroup": true, "colgroup": true, "caption": true,
	"rb": true, "rt": true, "rp": true, "rtc": true,
}

// scanMalformed tokenizes the markup and reports the problems the HTML5 tree
// builder will silently repair: end tags that close nothing and elements
// that are never closed.
func scanMalformed(src []byte) []doctree.ParseWarning {
	z := html.NewTokenizer(bytes.NewReader(src))
	var open []string
	var unmatched, unclosed int
	var firstUnmatched, firstUnclosed string
	var warnings []doctree.ParseWarning

	markUnclosed := func(tags []string) {
		for _, t := range tags {
			if optionalEndTag[t] {
				continue
			}
			if unclosed == 0 {
				firstUnclosed = t
			}
			unclosed++
		}
	}

scan:
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				warnings = append(warnings, doctree.ParseWarning{Kind: "malformed", Detail: "tokenizer: " + err.Error()})
			}
			break scan
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); !voidElements[tag] {
				open = append(open, tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			i := len(open) - 1
			for i >= 0 && open[i] != tag {
				i--
			}
			if i < 0 {
				if !optionalEndTag[tag] && !voidElements[tag] {
					if unmatched == 0 {
						firstUnmatched = tag
					}
					unmatched++
				}
				continue
			}
			markUnclosed(open[i+1:])
			open = open[:i]
		}
	}
	markUnclosed(open)

	if unmatched > 0 {
		warnings = append(warnings, doctree.ParseWarning{
			Kind:   "malformed",
			Detail: pluralCount(unmatched, "unmatched end tag") + " ignored (first </" + firstUnmatched + ">)",
		})
	}
	if unclosed > 0 {
		warnings = append(warnings, doctree.ParseWarning{
			Kind:   "malformed",
			Detail: pluralCount(unclosed, "unclosed element") + " closed implicitly (first <" + firstUnclosed + ">)",
		})
	}
	return warnings
}

func pluralCount(n int, noun string) string {
	s := strconv.Itoa(n) + " " + noun
	if n != 1 {
		s += "s"
	}
	return s
}
