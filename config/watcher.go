package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/goclaw/recall/pkg/logger"
)

// Change describes a reload whose hot-reloadable values differ from the
// last applied ones.
type Change struct {
	Previous HotReloadableConfig
	Current  HotReloadableConfig
	Config   *Config
}

// ChangeHandler applies a Change. An error keeps the previous baseline, so
// the same values are offered again on the next reload.
type ChangeHandler func(Change) error

// Watcher reloads a config file when it changes on disk and hands the
// hot-reloadable differences to registered handlers, one reload at a time.
type Watcher struct {
	path     string
	loader   *Loader
	debounce time.Duration
	log      logger.Logger

	mu       sync.Mutex
	handlers []ChangeHandler
	baseline HotReloadableConfig
	running  bool

	fs       *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for reload failures.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithBaseline sets the configuration the process is currently running
// with. Without it the first successful reload becomes the baseline.
func WithBaseline(cfg *Config) WatcherOption {
	return func(w *Watcher) {
		if cfg != nil {
			w.baseline = ExtractHotReloadable(cfg)
		}
	}
}

// NewWatcher creates a watcher for the config file at path. The parent
// directory is watched so that editors replacing the file are seen.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required for watching")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if loader == nil {
		loader = NewLoader()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		loader:   loader,
		debounce: 500 * time.Millisecond,
		log:      logger.Global().With("component", "config_watcher"),
		fs:       fsw,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnChange registers h. Handlers run in registration order.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
}

// Watch blocks until ctx is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher is already running")
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	// A single timer channel keeps reloads on this goroutine.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path, nil)
	if err != nil {
		w.log.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	current := ExtractHotReloadable(cfg)

	w.mu.Lock()
	prev := w.baseline
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	if !current.Changed(prev) {
		return
	}

	change := Change{Previous: prev, Current: current, Config: cfg}
	ok := true
	for _, h := range handlers {
		if err := w.apply(h, change); err != nil {
			w.log.Warn("config change not applied", "error", err)
			ok = false
		}
	}
	if ok {
		w.mu.Lock()
		w.baseline = current
		w.mu.Unlock()
	}
}

func (w *Watcher) apply(h ChangeHandler, c Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("change handler panicked: %v", r)
		}
	}()
	return h(c)
}

// Stop ends Watch and releases the fsnotify watcher. Repeated calls are no-ops.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fs.Close()
	})
	return err
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// ConfigPath returns the absolute path being watched.
func (w *Watcher) ConfigPath() string {
	return w.path
}

// HotReloadableConfig holds the values a running process can pick up
// without a restart.
type HotReloadableConfig struct {
	LogLevel string

	// Relevance is applied with Engine.SetScorerConfig.
	Relevance RelevanceConfig
}

// ExtractHotReloadable copies the hot-reloadable values out of cfg.
func ExtractHotReloadable(cfg *Config) HotReloadableConfig {
	rel := cfg.Relevance
	rel.KindWeights = make(map[string]float64, len(cfg.Relevance.KindWeights))
	for k, v := range cfg.Relevance.KindWeights {
		rel.KindWeights[k] = v
	}
	return HotReloadableConfig{LogLevel: cfg.Log.Level, Relevance: rel}
}

// Changed reports whether any hot-reloadable value differs.
func (h HotReloadableConfig) Changed(other HotReloadableConfig) bool {
	return h.LogLevel != other.LogLevel || h.RelevanceChanged(other)
}

// RelevanceChanged reports whether the scorer configuration differs.
func (h HotReloadableConfig) RelevanceChanged(other HotReloadableConfig) bool {
	return !reflect.DeepEqual(h.Relevance, other.Relevance)
}
