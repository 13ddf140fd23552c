package profiles

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"axdispatch/pkg/logging"
)

// DefaultDebounce is used when NewWatcher is given a zero interval.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports profile files that were created, changed or removed.
//
// Editors tend to write a file in several steps, so changes to the same
// profile are debounced and reported once.
type Watcher struct {
	mu sync.Mutex

	// dir is the watched profile directory
	dir string

	watcher *fsnotify.Watcher

	// debounce is how long to wait for additional changes
	debounce time.Duration

	// pending holds one timer per profile name
	pending map[string]*time.Timer

	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
	}
}

// Start begins watching. Changed profile names are sent on changes; a full
// channel drops the notification with a warning.
func (w *Watcher) Start(ctx context.Context, changes chan<- string) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		w.mu.Unlock()
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, stopCh, changes)

	logging.Info("Profiles", "Watching %s for profile changes", w.dir)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh chan struct{}, changes chan<- string) {
	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return

		case <-stopCh:
			w.cancelPending()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event, changes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Profiles", err, "Profile watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event, changes chan<- string) {
	if !isYAMLFile(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	base := filepath.Base(event.Name)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	w.debounceChange(name, changes)
}

func (w *Watcher) debounceChange(name string, changes chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[name]; ok {
		timer.Stop()
	}

	w.pending[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		_, ok := w.pending[name]
		delete(w.pending, name)
		w.mu.Unlock()
		if !ok {
			return
		}

		select {
		case changes <- name:
			logging.Debug("Profiles", "Profile %s changed", name)
		default:
			logging.Warn("Profiles", "Change channel full, dropping change for profile %s", name)
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
		w.watcher = nil
	}
	logging.Info("Profiles", "Stopped profile watcher")
	return err
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
