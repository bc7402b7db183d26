package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save.
const DefaultReloadDebounce = 300 * time.Millisecond

// debouncer runs fn once after the quiet period; successive calls reset the timer.
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
}

func (d *debouncer) debounce(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Watcher reloads the config file when it changes on disk.
// The parent directory is watched so rename-on-save editors are seen.
type Watcher struct {
	mu       sync.Mutex
	path     string
	watcher  *fsnotify.Watcher
	debounce *debouncer
	onChange func(*Config)
	onError  func(error)
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewWatcher creates a watcher for the config file at path. onChange receives
// each successfully loaded and validated config; onError receives load errors.
// Either callback may be nil.
func NewWatcher(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		debounce: &debouncer{duration: DefaultReloadDebounce},
		onChange: onChange,
		onError:  onError,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce overrides the reload quiet period. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce.duration = d
}

// Start begins watching. Non-blocking; the loop exits on ctx cancellation or Stop.
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
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.debounce.debounce(w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.report(err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.report(fmt.Errorf("reloaded config is invalid: %w", err))
		return
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

func (w *Watcher) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	if wasRunning {
		w.running = false
		close(w.stopCh)
	}
	w.mu.Unlock()

	if wasRunning {
		<-w.doneCh
	}
	w.debounce.cancel()
	return w.watcher.Close()
}
