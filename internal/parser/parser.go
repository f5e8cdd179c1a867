package parser

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dgallion1/docprep/internal/doctree"
)

// Parser converts a raw page into a structured Document.
type Parser interface {
	Parse(page doctree.RawPage) (*doctree.Document, error)
}

// ErrNoContent means the page had neither a heading nor a content block.
var ErrNoContent = errors.New("no headings or content blocks found")

// ParseError is returned when a page yields no usable structure at all.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ForPage returns the appropriate parser for a page, chosen by content type
// and falling back to the URL extension.
func ForPage(page doctree.RawPage) (Parser, error) {
	ct := strings.ToLower(page.Metadata.ContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.Contains(ct, "html") || strings.Contains(ct, "xml"):
		return &HTMLParser{}, nil
	case strings.Contains(ct, "markdown") || ct == "text/plain":
		return &MarkdownParser{}, nil
	case ct != "":
		return nil, fmt.Errorf("unsupported content type: %s", ct)
	}

	switch strings.ToLower(path.Ext(urlPath(page.SourceURL))) {
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	default:
		return &HTMLParser{}, nil
	}
}

// urlPath returns the path component of raw, or raw itself when it does not
// parse as a URL.
func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// stripFragment drops the #fragment from a URL.
func stripFragment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// titleFromURL derives a fallback title from the last path segment.
func titleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.TrimSuffix(u.Path, "/")
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return u.Host
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.NewReplacer("-", " ", "_", " ").Replace(base)
}

// normalizeWS collapses runs of whitespace, including non-breaking spaces,
// into single spaces.
func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
