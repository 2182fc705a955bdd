package vault

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// renameWindow is how long a removed path waits for the matching create
// before it is reported as deleted.
const renameWindow = 100 * time.Millisecond

// Watcher turns file system notifications under a vault root into Events.
// fsnotify reports a rename as a Rename of the old path followed by a Create
// of the new one; the two are paired when they arrive within renameWindow.
type Watcher struct {
	vault *Vault
	bus   *Bus
	log   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	order   []string
}

// NewWatcher returns a Watcher publishing on bus.
func NewWatcher(v *Vault, bus *Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{vault: v, bus: bus, log: logger, pending: make(map[string]*time.Timer)}
}

// Run watches the vault until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.vault.Root()); err != nil {
		return err
	}
	w.log.Info("Watching vault", "root", w.vault.Root())

	for {
		select {
		case <-ctx.Done():
			w.flushPending()
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, ok := w.vault.Rel(ev.Name)
	if !ok {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(fw, ev.Name); err != nil {
				w.log.Warn("Failed to watch new folder", "path", rel, "error", err)
			}
			return
		}
	}
	if !IsDocument(rel) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		if old, ok := w.takePending(); ok {
			w.bus.Publish(Event{Kind: Renamed, Path: rel, OldPath: old})
			return
		}
		w.bus.Publish(Event{Kind: Created, Path: rel})
	case ev.Has(fsnotify.Write):
		w.bus.Publish(Event{Kind: Changed, Path: rel})
	case ev.Has(fsnotify.Rename):
		w.addPending(rel)
	case ev.Has(fsnotify.Remove):
		w.bus.Publish(Event{Kind: Deleted, Path: rel})
	}
}

func (w *Watcher) addPending(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[rel] = time.AfterFunc(renameWindow, func() {
		w.mu.Lock()
		_, still := w.pending[rel]
		w.removePendingLocked(rel)
		w.mu.Unlock()
		if still {
			w.bus.Publish(Event{Kind: Deleted, Path: rel})
		}
	})
	w.order = append(w.order, rel)
}

// takePending pops the oldest path waiting for its rename target.
func (w *Watcher) takePending() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return "", false
	}
	rel := w.order[0]
	if t, ok := w.pending[rel]; ok {
		t.Stop()
	}
	w.removePendingLocked(rel)
	return rel, true
}

func (w *Watcher) removePendingLocked(rel string) {
	delete(w.pending, rel)
	for i, p := range w.order {
		if p == rel {
			w.order = append(w.order[:i:i], w.order[i+1:]...)
			break
		}
	}
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	paths := append([]string(nil), w.order...)
	for _, p := range paths {
		w.pending[p].Stop()
		w.removePendingLocked(p)
	}
	w.mu.Unlock()
	for _, p := range paths {
		w.bus.Publish(Event{Kind: Deleted, Path: p})
	}
}
