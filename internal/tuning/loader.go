package tuning

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mbd888/mevguard/internal/metrics"
)

// Loader holds the current tuning and reloads it from disk.
type Loader struct {
	path     string
	logger   *slog.Logger
	mu       sync.RWMutex
	current  *Tuning
	onChange []func(*Tuning)
}

// NewLoader performs the initial load. An empty path serves the defaults and
// never reloads.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	l := &Loader{path: path, logger: logger}
	if path == "" {
		l.current = Default()
		return l, nil
	}
	t, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	l.current = t
	return l, nil
}

// Current returns the latest tuning. Callers must not modify it.
func (l *Loader) Current() *Tuning {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Tuning)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Reload re-reads the file. On failure the previous tuning stays in effect.
func (l *Loader) Reload() (*Tuning, error) {
	if l.path == "" {
		return l.Current(), nil
	}
	t, err := ParseFile(l.path)
	if err != nil {
		metrics.TuningReloadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TuningReloadsTotal.WithLabelValues("ok").Inc()

	l.mu.Lock()
	l.current = t
	callbacks := make([]func(*Tuning), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn(t)
	}
	return t, nil
}

// Watch hot-reloads on file changes until stop is called. The parent
// directory is watched so editors that replace the file are seen too.
func (l *Loader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tuning watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("tuning watcher add %s: %w", l.path, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer func() { _ = w.Close() }()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if _, err := l.Reload(); err != nil {
					l.logger.Warn("tuning reload failed, keeping previous tuning", "path", l.path, "error", err)
					continue
				}
				l.logger.Info("tuning reloaded", "path", l.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("tuning watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}, nil
}
