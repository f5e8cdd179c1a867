package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docprep/internal/doctree"
)

func testDoc() *doctree.Document {
	return &doctree.Document{
		URLFinal:  "https://docs.example.com/guide",
		Title:     "Guide",
		FetchedAt: "2024-03-05T10:00:00Z",
		Sections: []*doctree.Section{{
			Level: 1, Heading: "Intro", Anchor: "intro",
			Blocks:   []doctree.Block{{Kind: doctree.KindParagraph, Text: "Hello <world> & co."}},
			Children: []*doctree.Section{},
		}},
		ParseWarnings: []string{},
	}
}

func TestFS_WriteDocument(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	doc := testDoc()

	path, err := fs.WriteDocument(doc, "")
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	want := filepath.Join(fs.Root, "parsed_pages", "docs.example.com", "20240305", Key(doc.URLFinal)+".json")
	if path != want {
		t.Errorf("expected path %s, got %s", want, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got doctree.Document
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(&got, doc) {
		t.Errorf("document changed on disk:\n%+v\n%+v", got, *doc)
	}
}

func TestFS_WriteChunksAndWarnings(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	doc := testDoc()
	doc.ParseWarnings = []string{"preamble: content before the first heading"}
	chunks := []doctree.Chunk{
		{ID: "a", SourceURL: doc.URLFinal, AnchorPath: []string{"intro"}, Text: "Intro\n\nHello <world>", TotalSplits: 1},
		{ID: "b", SourceURL: doc.URLFinal, AnchorPath: []string{"intro"}, Text: "more", Index: 1, TotalSplits: 1},
	}
	splits := []doctree.SplitWarning{{Anchor: "intro", Kind: doctree.KindCode, Pieces: 2, Boundary: "line"}}

	path, err := fs.WriteChunks(doc, "Docs.Example.com", chunks, splits)
	if err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}
	if !strings.Contains(path, filepath.Join("chunks", "docs.example.com")) {
		t.Errorf("unexpected chunks path %s", path)
	}

	raw, _ := os.ReadFile(path)
	if strings.Count(string(raw), "\n") != 2 {
		t.Errorf("expected one line per chunk, got %q", raw)
	}
	if strings.Contains(string(raw), `\u003c`) {
		t.Errorf("chunk text should not be HTML-escaped: %s", raw)
	}

	got, err := ReadChunks(path)
	if err != nil {
		t.Fatalf("ReadChunks: %v", err)
	}
	if !reflect.DeepEqual(got, chunks) {
		t.Errorf("chunks changed on disk:\n%+v\n%+v", got, chunks)
	}

	wpath := strings.TrimSuffix(path, ".jsonl") + ".warnings.json"
	var w Warnings
	data, err := os.ReadFile(wpath)
	if err != nil {
		t.Fatalf("expected warnings file: %v", err)
	}
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal warnings: %v", err)
	}
	if len(w.ParseWarnings) != 1 || len(w.SplitWarnings) != 1 {
		t.Errorf("unexpected warnings record %+v", w)
	}

	// A clean re-run removes the stale warnings file.
	doc.ParseWarnings = []string{}
	if _, err := fs.WriteChunks(doc, "docs.example.com", chunks, nil); err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}
	if _, err := os.Stat(wpath); !os.IsNotExist(err) {
		t.Errorf("expected stale warnings file to be removed, stat err = %v", err)
	}
}

func TestHostDir(t *testing.T) {
	tests := []struct {
		host, url, want string
	}{
		{"", "https://Docs.Example.com:8443/x", "docs.example.com_8443"},
		{"example.org", "https://other.net/", "example.org"},
		{"../etc", "", "__etc"},
		{"", "not a url", "unknown"},
	}
	for _, tt := range tests {
		if got := hostDir(tt.host, tt.url); got != tt.want {
			t.Errorf("hostDir(%q, %q) = %q, want %q", tt.host, tt.url, got, tt.want)
		}
	}
}

func TestManifest_RecordAndUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "manifest.db")
	m, err := OpenManifest(path)
	if err != nil {
		t.Fatalf("OpenManifest: %v", err)
	}

	unchanged, err := m.Unchanged("https://x.dev/a", "h1", "cfg1")
	if err != nil || unchanged {
		t.Fatalf("expected unknown page to be changed, got %v, %v", unchanged, err)
	}

	e := Entry{
		SourceURL:   "https://x.dev/a",
		URLFinal:    "https://x.dev/a/",
		ContentHash: "h1",
		ChunkConfig: "cfg1",
		Title:       "A",
		Chunks:      3,
		ProcessedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := m.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	tests := []struct {
		hash, config string
		want         bool
	}{
		{"h1", "cfg1", true},
		{"h2", "cfg1", false},
		{"h1", "cfg2", false},
	}
	for _, tt := range tests {
		if got, _ := m.Unchanged(e.SourceURL, tt.hash, tt.config); got != tt.want {
			t.Errorf("Unchanged(%s, %s) = %v, want %v", tt.hash, tt.config, got, tt.want)
		}
	}
	if err := m.Record(Entry{}); err == nil {
		t.Errorf("expected error for entry without source url")
	}

	// Entries survive a reopen.
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	m, err = OpenManifest(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m.Close()

	got, ok, err := m.Get(e.SourceURL)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: %v, %v", ok, err)
	}
	if !reflect.DeepEqual(got, e) {
		t.Errorf("expected %+v, got %+v", e, got)
	}
	if n, _ := m.Len(); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestFS_WriteReport(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	report := map[string]int{"written": 2, "failed": 1}

	path, err := fs.WriteReport("run-1", report)
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if path != filepath.Join(fs.Root, "reports", "run-1.json") {
		t.Errorf("unexpected report path %s", path)
	}
	for _, p := range []string{path, filepath.Join(fs.Root, "report.json")} {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		var got map[string]int
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", p, err)
		}
		if !reflect.DeepEqual(got, report) {
			t.Errorf("%s: expected %v, got %v", p, report, got)
		}
	}
}
