package acquire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/docprep/internal/doctree"
)

// Record is one entry of the fetch index written by the acquisition side.
type Record struct {
	URL         string `json:"url"`
	URLFinal    string `json:"url_final"`
	StatusCode  int    `json:"status_code"`
	HTMLPath    string `json:"html_path"`
	RawHTMLPath string `json:"html_crudo_path"` // older crawler output
	ContentType string `json:"content_type"`
	FetchedAt   string `json:"fetched_at"`
	Host        string `json:"host"`
}

// Path returns the stored page location with Windows separators normalized.
func (r Record) Path() string {
	p := r.HTMLPath
	if p == "" {
		p = r.RawHTMLPath
	}
	return filepath.FromSlash(strings.ReplaceAll(p, "\\", "/"))
}

// SourceURL is the URL the page was requested as, falling back to the final
// URL.
func (r Record) SourceURL() string {
	if r.URL != "" {
		return r.URL
	}
	return r.URLFinal
}

// ReadIndex parses a fetch index that is either a JSON array of records or
// JSON Lines.
func ReadIndex(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decode index %s: %w", path, err)
		}
		return recs, nil
	}

	var recs []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(text, &r); err != nil {
			return nil, fmt.Errorf("decode index %s line %d: %w", path, line, err)
		}
		recs = append(recs, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan index %s: %w", path, err)
	}
	return recs, nil
}

// Index is the set of usable pages from a fetch index. Page contents are
// read on demand so a batch never holds more pages than it is working on.
type Index struct {
	records []Record
	dir     string
	Skipped int // records dropped by the filter
}

// LoadIndex reads the index at path and keeps records with status 200, a
// URL, and a stored file that exists. Relative file paths resolve against
// the index's directory. limit > 0 caps the number of pages.
func LoadIndex(path string, limit int) (*Index, error) {
	recs, err := ReadIndex(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{dir: filepath.Dir(path)}
	for _, r := range recs {
		if limit > 0 && len(idx.records) >= limit {
			break
		}
		if r.StatusCode != 200 || r.SourceURL() == "" || r.Path() == "" {
			idx.Skipped++
			continue
		}
		if _, err := os.Stat(idx.resolve(r.Path())); err != nil {
			idx.Skipped++
			continue
		}
		idx.records = append(idx.records, r)
	}
	return idx, nil
}

func (x *Index) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(x.dir, p)
}

// Len returns the number of usable pages.
func (x *Index) Len() int { return len(x.records) }

// URL returns the source URL of page i without reading it.
func (x *Index) URL(i int) string { return x.records[i].SourceURL() }

// Page reads page i from disk.
func (x *Index) Page(i int) (doctree.RawPage, error) {
	r := x.records[i]
	content, err := os.ReadFile(x.resolve(r.Path()))
	if err != nil {
		return doctree.RawPage{}, fmt.Errorf("read page %s: %w", r.SourceURL(), err)
	}
	return doctree.RawPage{
		SourceURL: r.SourceURL(),
		Content:   content,
		Metadata: doctree.FetchMetadata{
			FinalURL:    r.URLFinal,
			FetchedAt:   parseFetchedAt(r.FetchedAt),
			StatusCode:  r.StatusCode,
			ContentType: r.ContentType,
			Host:        recordHost(r),
		},
	}, nil
}

// Crawlers write fetched_at with or without a zone and fractional seconds.
var fetchedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseFetchedAt(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range fetchedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func recordHost(r Record) string {
	if r.Host != "" {
		return r.Host
	}
	for _, raw := range []string{r.URLFinal, r.URL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return ""
}
