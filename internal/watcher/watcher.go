package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

// FSWatcher watches a directory tree with fsnotify and feeds raw events into
// a debouncer. New subdirectories are added to the watch set as they appear.
type FSWatcher struct {
	opts      Options
	debouncer *Debouncer

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	root    string
	stopped bool
	done    chan struct{}
}

// NewFSWatcher creates a filesystem watcher.
func NewFSWatcher(opts Options) *FSWatcher {
	opts = opts.WithDefaults()
	return &FSWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.QueueSize),
		done:      make(chan struct{}),
	}
}

// Start begins watching root recursively. Non-blocking; events arrive on
// Batches until Stop is called or the context is cancelled.
func (w *FSWatcher) Start(ctx context.Context, root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return ragerr.New(ragerr.ErrCodeInternal, "create filesystem watcher", err)
	}

	if err := addRecursive(fsw, root); err != nil {
		_ = fsw.Close()
		return err
	}

	w.mu.Lock()
	w.fsw = fsw
	w.root = root
	w.mu.Unlock()

	go w.loop(ctx)
	return nil
}

// addRecursive registers every directory under root, skipping hidden
// directories like .git.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		return ragerr.New(ragerr.ErrCodeInternal, "register watch directories", err)
	}
	return nil
}

func (w *FSWatcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("filesystem watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *FSWatcher) handleEvent(event fsnotify.Event) {
	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	if op == OpCreate {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				slog.Warn("failed to watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// Batches returns the channel of debounced event batches.
func (w *FSWatcher) Batches() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Stop stops the watcher and the debouncer. Safe to call more than once.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	fsw := w.fsw
	w.mu.Unlock()

	var err error
	if fsw != nil {
		err = fsw.Close()
		<-w.done
	}
	w.debouncer.Stop()
	return err
}
