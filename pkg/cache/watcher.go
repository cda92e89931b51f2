package cache

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// watcher invalidates cache entries when a dependency file changes on
// disk, so stale results are dropped before the next Get even revalidates.
type watcher struct {
	fs  *fsnotify.Watcher
	log *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}

	stopOnce sync.Once
	done     chan struct{}
}

func newWatcher(c *Cache) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:      fsw,
		log:     slog.With("component", "cache_watcher"),
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	go w.run(c)
	return w, nil
}

func (w *watcher) watch(path string) {
	w.mu.Lock()
	_, already := w.watched[path]
	if !already {
		w.watched[path] = struct{}{}
	}
	w.mu.Unlock()
	if already {
		return
	}
	if err := w.fs.Add(path); err != nil {
		w.log.Debug("Watch failed", "path", path, "error", err)
	}
}

func (w *watcher) run(c *Cache) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				c.InvalidateByFileChanges([]string{ev.Name})
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Debug("Watcher error", "error", err)
		}
	}
}

func (w *watcher) close() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fs.Close()
	})
}
