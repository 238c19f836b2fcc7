// Package watch records manual edits of a disassembled kernel as they are
// saved, moving the artifact from DISASSEMBLED to EDITED and amending it on
// every later save.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
)

// DefaultDebounce is the quiet period after the last write before an edit
// is recorded.
const DefaultDebounce = 500 * time.Millisecond

// Editor records an edit. *pipeline.Pipeline implements it.
type Editor interface {
	Edit(ref sassplay.Ref, editedPath string) (sassplay.Artifact, error)
}

// Event reports one recorded edit or the error recording it.
type Event struct {
	Artifact sassplay.Artifact
	Err      error
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher watches one editable file of one artifact lineage.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	editor   Editor
	id       string
	path     string
	debounce time.Duration
	pending  time.Time // last unprocessed write; zero when none
	version  int       // last version reported
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	log      *zap.Logger
}

// New creates a watcher for path, the editable text of artifact ref.
// Edits are always recorded against the latest version of the lineage.
func New(editor Editor, ref sassplay.Ref, path string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		editor:   editor,
		id:       ref.ID,
		path:     abs,
		debounce: opts.Debounce,
		version:  ref.Version,
		events:   make(chan Event, 8),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      opts.Logger.With(zap.String("artifact", ref.ID), zap.String("path", abs)),
	}, nil
}

// Edited delivers recorded edits. It is closed once the watcher stops.
func (w *Watcher) Edited() <-chan Event {
	return w.events
}

// Start begins watching. The file's directory is watched rather than the
// file so that editors which save by renaming a temporary file are seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.log.Info("watching for edits", zap.Duration("debounce", w.debounce))
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.log.Warn("closing watcher", zap.Error(err))
	}
	w.log.Debug("watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.events)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			if w.settled() && !w.record(ctx) {
				return
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

// settled reports and clears a pending write older than the debounce
// window.
func (w *Watcher) settled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		return false
	}
	w.pending = time.Time{}
	return true
}

// record passes the settled edit to the editor. It returns false if the
// watcher was stopped while delivering the event.
func (w *Watcher) record(ctx context.Context) bool {
	a, err := w.editor.Edit(sassplay.Ref{ID: w.id}, w.path)
	if err == nil && a.Version == w.version {
		return true
	}
	if err != nil {
		w.log.Warn("edit not recorded", zap.Error(err))
	} else {
		w.version = a.Version
		w.log.Info("edit recorded", zap.Int("version", a.Version), zap.Stringer("stage", a.Stage))
	}

	select {
	case w.events <- Event{Artifact: a, Err: err}:
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
