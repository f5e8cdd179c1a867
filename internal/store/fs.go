package store

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/docprep/internal/doctree"
)

// FS writes parsed documents, chunk lists and warnings under Root:
//
//	parsed_pages/<host>/<YYYYMMDD>/<key>.json
//	chunks/<host>/<key>.jsonl
//	chunks/<host>/<key>.warnings.json
//
// where key is the hex SHA-1 of the document's url_final.
type FS struct {
	Root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FS{Root: root}, nil
}

// Warnings is the audit record written next to a page's chunks.
type Warnings struct {
	URLFinal      string                 `json:"url_final"`
	ParseWarnings []string               `json:"parse_warnings"`
	SplitWarnings []doctree.SplitWarning `json:"split_warnings"`
}

// Key returns the file name stem used for a URL.
func Key(urlFinal string) string {
	sum := sha1.Sum([]byte(urlFinal))
	return hex.EncodeToString(sum[:])
}

// DocumentPath returns where WriteDocument puts doc.
func (s *FS) DocumentPath(doc *doctree.Document, host string) string {
	day := "unknown"
	if t, err := time.Parse(time.RFC3339, doc.FetchedAt); err == nil {
		day = t.UTC().Format("20060102")
	}
	return filepath.Join(s.Root, "parsed_pages", hostDir(host, doc.URLFinal), day, Key(doc.URLFinal)+".json")
}

// ChunksPath returns where WriteChunks puts the chunk list for doc.
func (s *FS) ChunksPath(doc *doctree.Document, host string) string {
	return filepath.Join(s.Root, "chunks", hostDir(host, doc.URLFinal), Key(doc.URLFinal)+".jsonl")
}

// WriteDocument persists the intermediate Document artifact.
func (s *FS) WriteDocument(doc *doctree.Document, host string) (string, error) {
	path := s.DocumentPath(doc, host)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	if err := writeFileAtomic(path, func(w *bufio.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	}); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return path, nil
}

// WriteReport writes a batch report as <root>/reports/<runID>.json and
// refreshes <root>/report.json to point at the latest run.
func (s *FS) WriteReport(runID string, report any) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(s.Root, "reports", runID+".json")
	for _, p := range []string{path, filepath.Join(s.Root, "report.json")} {
		if err := writeFileAtomic(p, func(w *bufio.Writer) error {
			_, err := w.Write(data)
			return err
		}); err != nil {
			return "", fmt.Errorf("write report: %w", err)
		}
	}
	return path, nil
}

// WriteChunks writes one JSON chunk per line. When there are warnings they
// are written alongside; a stale warnings file from an earlier run is
// removed otherwise.
func (s *FS) WriteChunks(doc *doctree.Document, host string, chunks []doctree.Chunk, splits []doctree.SplitWarning) (string, error) {
	path := s.ChunksPath(doc, host)
	err := writeFileAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for i := range chunks {
			if err := enc.Encode(&chunks[i]); err != nil {
				return fmt.Errorf("encode chunk %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("write chunks: %w", err)
	}

	wpath := strings.TrimSuffix(path, ".jsonl") + ".warnings.json"
	if len(doc.ParseWarnings) == 0 && len(splits) == 0 {
		if err := os.Remove(wpath); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("remove stale warnings: %w", err)
		}
		return path, nil
	}

	rec := Warnings{URLFinal: doc.URLFinal, ParseWarnings: doc.ParseWarnings, SplitWarnings: splits}
	if rec.ParseWarnings == nil {
		rec.ParseWarnings = []string{}
	}
	if rec.SplitWarnings == nil {
		rec.SplitWarnings = []doctree.SplitWarning{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal warnings: %w", err)
	}
	if err := writeFileAtomic(wpath, func(w *bufio.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	}); err != nil {
		return "", fmt.Errorf("write warnings: %w", err)
	}
	return path, nil
}

// ReadChunks loads a chunk list written by WriteChunks.
func ReadChunks(path string) ([]doctree.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []doctree.Chunk
	dec := json.NewDecoder(f)
	for dec.More() {
		var c doctree.Chunk
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", len(chunks), err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place, so readers never see a partial artifact.
func writeFileAtomic(path string, fill func(w *bufio.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// hostDir picks a safe directory name for the page's host.
func hostDir(host, urlFinal string) string {
	if host == "" {
		if u, err := url.Parse(urlFinal); err == nil {
			host = u.Host
		}
	}
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
