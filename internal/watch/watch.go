// Package watch re-runs a callback whenever source files under a directory
// tree change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"bsqlc/internal/buildlog"
)

// DefaultDebounce is the quiet period after the last event before the
// callback fires.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a directory tree for changes to files with one extension.
type Watcher struct {
	// Debounce overrides DefaultDebounce when set before Start.
	Debounce time.Duration

	root     string
	ext      string
	callback func(context.Context) error
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewWatcher creates a watcher over root and every directory below it.
func NewWatcher(root, ext string, callback func(context.Context) error) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		Debounce: DefaultDebounce,
		root:     absRoot,
		ext:      ext,
		callback: callback,
		watcher:  watcher,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if _, err := w.addTree(absRoot); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	return w, nil
}

// addTree watches dir and its subdirectories and reports whether it holds
// any matching file.
func (w *Watcher) addTree(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		if w.matches(path) {
			found = true
		}
		return nil
	})
	return found, err
}

func (w *Watcher) matches(path string) bool {
	return filepath.Ext(path) == w.ext
}

// Start begins delivering events. The callback runs on the watcher goroutine;
// its errors are logged and do not stop the watcher.
func (w *Watcher) Start(ctx context.Context) {
	log := buildlog.FromContext(ctx)
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	log.Info(fmt.Sprintf("Watching %s for changes (press Ctrl+C to stop)", w.root))
	w.started.Store(true)
	go func() {
		defer close(w.stopped)

		debounceTimer := time.NewTimer(debounce)
		debounceTimer.Stop()
		var debounceCh <-chan time.Time
		trigger := func() {
			debounceTimer.Reset(debounce)
			debounceCh = debounceTimer.C
		}

		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create == fsnotify.Create {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						found, err := w.addTree(event.Name)
						if err != nil {
							log.Warn(fmt.Sprintf("Cannot watch %s: %v", event.Name, err))
						}
						if found {
							trigger()
						}
						continue
					}
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 && w.matches(event.Name) {
					log.Debug("source changed", "path", event.Name, "op", event.Op.String())
					trigger()
				}

			case <-debounceCh:
				debounceCh = nil
				if err := w.callback(ctx); err != nil {
					log.Error(fmt.Sprintf("Watch callback error: %v", err))
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Warn(fmt.Sprintf("Watch error: %v", err))

			case <-ctx.Done():
				return

			case <-w.done:
				return
			}
		}
	}()
}

// Stop stops watching and waits for a running callback to return. Stop is
// safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.stopped
	}
	return err
}
