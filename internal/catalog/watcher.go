package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/1mcp/gateway/pkg/log"
)

// debounceWindow matches spec §4.1's 500ms debounce on file-change events.
const debounceWindow = 500 * time.Millisecond

// Watcher loads a catalog file and hot-reloads it on change, failing soft:
// read/parse errors are logged and the last good snapshot is retained.
//
// It watches the *containing directory*, not the file itself, so that
// atomic-rename saves (write to temp, rename over the target) are observed
// even though the original inode disappears.
type Watcher struct {
	path string
	env  []string

	mu      sync.RWMutex
	current *Snapshot

	subs   []chan *Snapshot
	subsMu sync.Mutex

	lastMTime time.Time
}

// NewWatcher loads path once and returns a Watcher positioned at that
// initial snapshot. Call Run to start watching for changes.
func NewWatcher(path string, env []string) (*Watcher, error) {
	snap, err := Load(path, env)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, env: env, current: snap}
	if fi, err := os.Stat(path); err == nil {
		w.lastMTime = fi.ModTime()
	}
	return w, nil
}

// Current returns the latest good snapshot. Safe for concurrent use with
// Run and subscription delivery.
func (w *Watcher) Current() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel that receives subsequent successfully
// reloaded snapshots. The channel is buffered (size 1) so a slow subscriber
// never blocks the watcher; it only ever observes the most recent snapshot.
func (w *Watcher) Subscribe() <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()
	return ch
}

func (w *Watcher) publish(snap *Snapshot) {
	w.mu.Lock()
	w.current = snap
	w.mu.Unlock()

	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Run watches the catalog directory until ctx is cancelled. It debounces
// bursts of filesystem events 500ms before re-reading, and only reloads
// when the watched file's mtime actually changed.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(dir); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		fi, err := os.Stat(w.path)
		if err != nil {
			log.Warnf("catalog: stat %s: %v", w.path, err)
			return
		}
		if !fi.ModTime().After(w.lastMTime) {
			return
		}
		w.lastMTime = fi.ModTime()

		snap, err := Load(w.path, w.env)
		if err != nil {
			log.Warnf("catalog: reload %s failed, keeping last good snapshot: %v", w.path, err)
			return
		}
		w.publish(snap)
		log.Logf("catalog: reloaded %s (%d entries)", w.path, len(snap.Names))
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, reload)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("catalog: watch error: %v", err)
		}
	}
}
