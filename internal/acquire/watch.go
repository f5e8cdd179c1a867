package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals when the fetch index file changes. It watches the
// containing directory because crawlers usually replace the index by
// renaming a new file over it.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher creates a watcher for the index file at path.
func NewWatcher(path string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve index path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{watcher: w, path: abs, debounce: debounce, log: log}, nil
}

// Watch emits one value per burst of changes to the index file. The channel
// is closed when ctx is done or the watcher is stopped.
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					timer.Reset(w.debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				select {
				case changes <- struct{}{}:
				default: // a change is already pending
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("index watcher error", "error", err)
			}
		}
	}()

	return changes, nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
