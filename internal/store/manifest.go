package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var pagesBucket = []byte("pages")

// Entry records the last successful processing of a page.
type Entry struct {
	SourceURL   string    `json:"source_url"`
	URLFinal    string    `json:"url_final"`
	ContentHash string    `json:"content_hash"`
	ChunkConfig string    `json:"chunk_config"` // chunker.Config fingerprint
	Title       string    `json:"title"`
	Chunks      int       `json:"chunks"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Manifest is a bbolt-backed index of processed pages keyed by source URL.
// bbolt serializes writers itself, so a Manifest is safe for concurrent use.
type Manifest struct {
	path string
	db   *bolt.DB
}

// OpenManifest opens or creates the manifest database at path.
func OpenManifest(path string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Manifest{path: path, db: db}, nil
}

// Get returns the entry for sourceURL, if any.
func (m *Manifest) Get(sourceURL string) (Entry, bool, error) {
	var e Entry
	var found bool
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(pagesBucket).Get([]byte(sourceURL))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("read manifest %s: %w", sourceURL, err)
	}
	return e, found, nil
}

// Unchanged reports whether sourceURL was last processed with the same
// content hash and the same chunk configuration.
func (m *Manifest) Unchanged(sourceURL, contentHash, chunkConfig string) (bool, error) {
	e, ok, err := m.Get(sourceURL)
	if err != nil || !ok {
		return false, err
	}
	return e.ContentHash == contentHash && e.ChunkConfig == chunkConfig, nil
}

// Record stores e, replacing any earlier entry for the same source URL.
func (m *Manifest) Record(e Entry) error {
	if e.SourceURL == "" {
		return errors.New("manifest entry has no source url")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pagesBucket).Put([]byte(e.SourceURL), data)
	})
}

// Len returns the number of recorded pages.
func (m *Manifest) Len() (int, error) {
	var n int
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pagesBucket).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Path returns the database file location.
func (m *Manifest) Path() string { return m.path }

// Close closes the database.
func (m *Manifest) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
