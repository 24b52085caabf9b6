// Package devwatch watches a guest asset directory during development and
// fires a debounced reload signal on change, so a dev host can refresh the
// embedded surface without restarting.
package devwatch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the write bursts editors and bundlers produce.
const DefaultDebounce = 250 * time.Millisecond

// Watcher emits one reload signal per settled burst of filesystem changes
// under a root directory, watched recursively.
type Watcher struct {
	root     string
	debounce time.Duration
	log      *slog.Logger
	reload   chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the settle interval. 0 disables debouncing.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// New builds a watcher over root. The directory must exist.
func New(root string, opts ...Option) (*Watcher, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		debounce: DefaultDebounce,
		log:      slog.Default(),
		reload:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Reload ticks once per settled change burst. The channel is buffered with
// one slot; a consumer that falls behind sees at most one coalesced tick.
func (w *Watcher) Reload() <-chan struct{} { return w.reload }

// Run watches until ctx ends. New subdirectories are added to the watch as
// they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	addDirs := func() error {
		return filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			return fw.Add(p)
		})
	}
	if err := addDirs(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = fw.Add(ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.trigger()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Debug("watch error", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce <= 0 {
		w.fire()
		return
	}
	if w.pending {
		return
	}
	w.pending = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	w.pending = false
	w.mu.Unlock()
	w.fire()
}

func (w *Watcher) fire() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}
