package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docprep/internal/chunker"
	"github.com/dgallion1/docprep/internal/doctree"
	"github.com/dgallion1/docprep/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func htmlPage(url, body string) doctree.RawPage {
	return doctree.RawPage{
		SourceURL: url,
		Content:   []byte("<html><head><title>T</title></head><body><main>" + body + "</main></body></html>"),
		Metadata: doctree.FetchMetadata{
			StatusCode:  200,
			ContentType: "text/html; charset=utf-8",
			Host:        "docs.dev",
			FetchedAt:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		},
	}
}

type recordingIndexer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
	panic string
}

func (r *recordingIndexer) PutChunks(_ context.Context, sourceURL string, chunks []doctree.Chunk) error {
	switch sourceURL {
	case r.panic:
		panic("indexer exploded")
	case r.fail:
		return errors.New("indexer unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[sourceURL] += len(chunks)
	return nil
}

type testEnv struct {
	fs       *store.FS
	manifest *store.Manifest
	indexer  *recordingIndexer
}

func newTestCoordinator(t *testing.T, env *testEnv, force bool) *Coordinator {
	t.Helper()
	return newCoordinatorWithConfig(t, env, chunker.DefaultConfig(), force)
}

func newCoordinatorWithConfig(t *testing.T, env *testEnv, cfg chunker.Config, force bool) *Coordinator {
	t.Helper()
	ch, err := chunker.New(cfg)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	if env.fs == nil {
		fs, err := store.NewFS(t.TempDir())
		if err != nil {
			t.Fatalf("NewFS: %v", err)
		}
		env.fs = fs
	}
	if env.manifest == nil {
		m, err := store.OpenManifest(filepath.Join(t.TempDir(), "manifest.db"))
		if err != nil {
			t.Fatalf("OpenManifest: %v", err)
		}
		t.Cleanup(func() { m.Close() })
		env.manifest = m
	}
	if env.indexer == nil {
		env.indexer = &recordingIndexer{}
	}
	w := NewWorker(ch, env.fs, env.manifest, env.indexer, force, discardLogger())
	return NewCoordinator(w, Options{Workers: 3, QueueSize: 2}, discardLogger())
}

func TestCoordinator_IsolatesFailures(t *testing.T) {
	env := &testEnv{indexer: &recordingIndexer{
		fail:  "https://docs.dev/fail",
		panic: "https://docs.dev/panic",
	}}
	c := newTestCoordinator(t, env, false)

	pages := []doctree.RawPage{
		htmlPage("https://docs.dev/a", "<h1>A</h1><p>alpha text</p><h2>Install</h2><p>pip install a</p>"),
		htmlPage("https://docs.dev/empty", ""),
		htmlPage("https://docs.dev/panic", "<h1>P</h1><p>boom</p>"),
		htmlPage("https://docs.dev/fail", "<h1>F</h1><p>fails at the indexer</p>"),
		htmlPage("https://docs.dev/b", "<h1>B</h1><p>beta text</p>"),
		{SourceURL: "https://docs.dev/c.pdf", Content: []byte("%PDF"), Metadata: doctree.FetchMetadata{ContentType: "application/pdf"}},
	}
	rep := c.Run(context.Background(), Pages(pages))

	if rep.Processed != 6 || rep.Written != 2 || rep.Failed != 4 || rep.Skipped != 0 || rep.Canceled != 0 {
		t.Fatalf("unexpected report counts %+v", rep)
	}
	if len(rep.Pages) != len(pages) {
		t.Fatalf("expected %d page results, got %d", len(pages), len(rep.Pages))
	}
	for i, p := range rep.Pages {
		if p.Seq != i || p.URL != pages[i].SourceURL {
			t.Errorf("result %d out of order: %+v", i, p)
		}
	}

	wantPhase := map[string]string{
		"https://docs.dev/a":     "done",
		"https://docs.dev/empty": "parsing",
		"https://docs.dev/panic": "panic",
		"https://docs.dev/fail":  "indexing",
		"https://docs.dev/b":     "done",
		"https://docs.dev/c.pdf": "parsing",
	}
	for _, p := range rep.Pages {
		if p.Phase != wantPhase[p.URL] {
			t.Errorf("%s: expected phase %q, got %q (errors %v)", p.URL, wantPhase[p.URL], p.Phase, p.Progress.Errors)
		}
		if p.Status == StatusFailed && len(p.Progress.Errors) == 0 {
			t.Errorf("%s: failed without an error", p.URL)
		}
	}

	a := rep.Pages[0]
	if a.Progress.Chunks == 0 || a.Progress.Sections != 2 || len(a.Artifacts) != 2 {
		t.Errorf("unexpected result for written page %+v", a)
	}
	chunks, err := store.ReadChunks(a.Artifacts[1])
	if err != nil {
		t.Fatalf("ReadChunks: %v", err)
	}
	if len(chunks) != a.Progress.Chunks || env.indexer.calls["https://docs.dev/a"] != len(chunks) {
		t.Errorf("expected %d chunks written and indexed, got %d written, %d indexed",
			a.Progress.Chunks, len(chunks), env.indexer.calls["https://docs.dev/a"])
	}
	if !strings.Contains(rep.Pages[1].Progress.Errors[0], "no headings") {
		t.Errorf("expected a no-content parse error, got %v", rep.Pages[1].Progress.Errors)
	}

	if got := c.GetJob(a.ID); got == nil || got.Snapshot().Status != StatusCompleted {
		t.Errorf("expected job %s to be queryable", a.ID)
	}

	n, err := env.manifest.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected only written pages in the manifest, got %d", n)
	}
}

func TestCoordinator_SkipsUnchangedPages(t *testing.T) {
	env := &testEnv{}
	pages := []doctree.RawPage{
		htmlPage("https://docs.dev/a", "<h1>A</h1><p>alpha</p>"),
		htmlPage("https://docs.dev/b", "<h1>B</h1><p>beta</p>"),
	}

	first := newTestCoordinator(t, env, false).Run(context.Background(), Pages(pages))
	if first.Written != 2 {
		t.Fatalf("expected 2 written on first run, got %+v", first)
	}

	pages[1] = htmlPage("https://docs.dev/b", "<h1>B</h1><p>beta, edited</p>")
	second := newTestCoordinator(t, env, false).Run(context.Background(), Pages(pages))
	if second.Skipped != 1 || second.Written != 1 {
		t.Fatalf("expected 1 skipped and 1 written, got %+v", second)
	}
	if second.Pages[0].Status != StatusSkipped || second.Pages[0].Phase != "unchanged" {
		t.Errorf("expected unchanged page to be skipped, got %+v", second.Pages[0])
	}

	forced := newTestCoordinator(t, env, true).Run(context.Background(), Pages(pages))
	if forced.Written != 2 || forced.Skipped != 0 {
		t.Errorf("expected force to reprocess every page, got %+v", forced)
	}
	if env.indexer.calls["https://docs.dev/a"] == 0 {
		t.Errorf("expected page a to be indexed")
	}
}

func TestCoordinator_RechunksWhenConfigChanges(t *testing.T) {
	env := &testEnv{}
	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	pages := []doctree.RawPage{htmlPage("https://docs.dev/a", "<h1>A</h1><p>"+strings.Join(words, " ")+"</p>")}

	first := newTestCoordinator(t, env, false).Run(context.Background(), Pages(pages))
	if first.Written != 1 || first.Pages[0].Progress.Chunks != 1 {
		t.Fatalf("expected one chunk on first run, got %+v", first.Pages[0])
	}

	small := chunker.DefaultConfig()
	small.MaxTokens = 10
	small.OverlapTokens = 2
	second := newCoordinatorWithConfig(t, env, small, false).Run(context.Background(), Pages(pages))
	p := second.Pages[0]
	if p.Status != StatusCompleted {
		t.Fatalf("expected page to be rechunked after a config change, got %s (%s)", p.Status, p.Phase)
	}
	chunks, err := store.ReadChunks(p.Artifacts[1])
	if err != nil {
		t.Fatalf("ReadChunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("expected several chunks under the smaller limit, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.TokenCount > small.MaxTokens {
			t.Errorf("chunk %d on disk has %d tokens, limit %d", c.Index, c.TokenCount, small.MaxTokens)
		}
	}

	third := newCoordinatorWithConfig(t, env, small, false).Run(context.Background(), Pages(pages))
	if third.Skipped != 1 {
		t.Errorf("expected unchanged page and config to be skipped, got %+v", third.Pages[0])
	}
}

func TestCoordinator_CanceledBeforeDispatch(t *testing.T) {
	c := newTestCoordinator(t, &testEnv{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pages := []doctree.RawPage{
		htmlPage("https://docs.dev/a", "<h1>A</h1><p>alpha</p>"),
		htmlPage("https://docs.dev/b", "<h1>B</h1><p>beta</p>"),
		htmlPage("https://docs.dev/c", "<h1>C</h1><p>gamma</p>"),
	}
	rep := c.Run(ctx, Pages(pages))

	if rep.Canceled != 3 || rep.Processed != 0 || rep.Written != 0 {
		t.Fatalf("unexpected report counts %+v", rep)
	}
	if len(rep.Pages) != 3 {
		t.Fatalf("expected every page in the report, got %d", len(rep.Pages))
	}
	for _, p := range rep.Pages {
		if p.Status != StatusFailed || p.Phase != "canceled" {
			t.Errorf("expected canceled page, got %+v", p)
		}
	}
}

type failingSource struct{ n int }

func (s failingSource) Len() int         { return s.n }
func (s failingSource) URL(i int) string { return "https://docs.dev/missing" }
func (s failingSource) Page(int) (doctree.RawPage, error) {
	return doctree.RawPage{}, errors.New("open page: no such file")
}

func TestCoordinator_LoadErrorsFailPage(t *testing.T) {
	c := newTestCoordinator(t, &testEnv{}, false)
	rep := c.Run(context.Background(), failingSource{n: 2})
	if rep.Failed != 2 {
		t.Fatalf("expected 2 failures, got %+v", rep)
	}
	if rep.Pages[0].Phase != "loading" {
		t.Errorf("expected loading phase, got %q", rep.Pages[0].Phase)
	}
}

func TestNewCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(nil, Options{}, discardLogger())
	if c.opts.Workers <= 0 || c.opts.QueueSize != 2*c.opts.Workers || c.opts.JobTTL != time.Hour {
		t.Errorf("unexpected defaults %+v", c.opts)
	}
}
