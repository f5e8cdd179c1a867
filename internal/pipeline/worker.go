package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dgallion1/docprep/internal/chunker"
	"github.com/dgallion1/docprep/internal/doctree"
	"github.com/dgallion1/docprep/internal/parser"
	"github.com/dgallion1/docprep/internal/store"
)

// Artifacts persists the per-page outputs.
type Artifacts interface {
	WriteDocument(doc *doctree.Document, host string) (string, error)
	WriteChunks(doc *doctree.Document, host string, chunks []doctree.Chunk, splits []doctree.SplitWarning) (string, error)
}

// Manifest remembers which pages were processed and with what content.
type Manifest interface {
	Unchanged(sourceURL, contentHash, chunkConfig string) (bool, error)
	Record(e store.Entry) error
}

// Indexer receives the chunk list of each page.
type Indexer interface {
	PutChunks(ctx context.Context, sourceURL string, chunks []doctree.Chunk) error
}

// Worker processes a single page. It holds no per-page state, so one Worker
// is shared by all pool goroutines.
type Worker struct {
	chunker   *chunker.Chunker
	artifacts Artifacts
	manifest  Manifest
	indexer   Indexer
	force     bool
	log       *slog.Logger
}

func NewWorker(ch *chunker.Chunker, artifacts Artifacts, manifest Manifest, indexer Indexer, force bool, log *slog.Logger) *Worker {
	return &Worker{
		chunker:   ch,
		artifacts: artifacts,
		manifest:  manifest,
		indexer:   indexer,
		force:     force,
		log:       log,
	}
}

// Process runs parse, chunk, store and index for one page. Any failure,
// including a panic, ends this job only.
func (w *Worker) Process(ctx context.Context, job *Job, load func() (doctree.RawPage, error)) {
	log := w.log.With("job_id", job.ID, "url", job.URL)

	defer func() {
		if r := recover(); r != nil {
			log.Error("page processing panicked", "panic", r, "stack", string(debug.Stack()))
			job.AddError(fmt.Sprintf("panic: %v", r))
			job.SetStatus(StatusFailed, "panic")
		}
	}()

	if err := ctx.Err(); err != nil {
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "canceled")
		return
	}

	page, err := load()
	if err != nil {
		log.Error("load failed", "error", err)
		job.AddError(fmt.Sprintf("load: %s", err))
		job.SetStatus(StatusFailed, "loading")
		return
	}

	hash := ContentHashHex(page.Content)
	job.SetContentHash(hash)
	fingerprint := w.chunker.Config().Fingerprint()

	if w.manifest != nil && !w.force {
		unchanged, err := w.manifest.Unchanged(page.SourceURL, hash, fingerprint)
		if err != nil {
			log.Warn("manifest lookup failed, processing anyway", "error", err)
		} else if unchanged {
			log.Info("page unchanged, skipping")
			job.SetStatus(StatusSkipped, "unchanged")
			return
		}
	}

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForPage(page)
	if err != nil {
		log.Error("unsupported page", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	doc, err := p.Parse(page)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	sections := 0
	doc.Walk(func(*doctree.Section, []*doctree.Section) { sections++ })
	job.SetDocument(doc.URLFinal, doc.Title, sections, len(doc.ParseWarnings))
	for _, pw := range doc.ParseWarnings {
		log.Debug("parse warning", "warning", pw)
	}

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	chunks, splits := w.chunker.Chunk(doc)
	job.SetChunks(len(chunks), len(splits))
	for _, sw := range splits {
		log.Info("block split", "warning", sw.String())
	}
	log.Info("chunked page", "sections", sections, "chunks", len(chunks), "parse_warnings", len(doc.ParseWarnings))

	// Phase 3: Store
	if w.artifacts != nil {
		job.SetStatus(StatusStoring, "storing")
		path, err := w.artifacts.WriteDocument(doc, page.Metadata.Host)
		if err != nil {
			log.Error("document write failed", "error", err)
			job.AddError(fmt.Sprintf("store: %s", err))
			job.SetStatus(StatusFailed, "storing")
			return
		}
		job.AddArtifact(path)

		path, err = w.artifacts.WriteChunks(doc, page.Metadata.Host, chunks, splits)
		if err != nil {
			log.Error("chunk write failed", "error", err)
			job.AddError(fmt.Sprintf("store: %s", err))
			job.SetStatus(StatusFailed, "storing")
			return
		}
		job.AddArtifact(path)
	}

	// Phase 4: Hand off to the indexer
	if w.indexer != nil {
		job.SetStatus(StatusIndexing, "indexing")
		if err := w.indexer.PutChunks(ctx, doc.URLFinal, chunks); err != nil {
			log.Error("indexer hand-off failed", "error", err)
			job.AddError(fmt.Sprintf("index: %s", err))
			job.SetStatus(StatusFailed, "indexing")
			return
		}
	}

	if w.manifest != nil {
		err := w.manifest.Record(store.Entry{
			SourceURL:   page.SourceURL,
			URLFinal:    doc.URLFinal,
			ContentHash: hash,
			ChunkConfig: fingerprint,
			Title:       doc.Title,
			Chunks:      len(chunks),
			ProcessedAt: time.Now().UTC(),
		})
		if err != nil {
			// The page is done; it will simply be reprocessed next run.
			log.Warn("manifest write failed", "error", err)
		}
	}

	job.SetStatus(StatusCompleted, "done")
}
