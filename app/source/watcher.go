package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// Watcher keeps a ConfigCache in sync with the sources directory.
type Watcher struct {
	cache    *ConfigCache
	onChange func(name string, cfg *Config)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher returns a watcher for cache. onChange may be nil; it receives a
// nil config when a source file was removed.
func NewWatcher(cache *ConfigCache, onChange func(name string, cfg *Config)) *Watcher {
	return &Watcher{
		cache:    cache,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cache.sourcesDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.cache.sourcesDir, err)
	}

	slog.Info("Watching source configurations", "dir", w.cache.sourcesDir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("Source watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Ext(event.Name) != ".yml" {
		return
	}
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return
	}

	name := NameFromPath(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(debounceInterval, func() {
		w.reload(name)
	})
}

func (w *Watcher) reload(name string) {
	w.mu.Lock()
	delete(w.timers, name)
	w.mu.Unlock()

	cfg, err := w.cache.LoadConfig(name)
	if err != nil {
		// Removed or renamed away; a broken file keeps its previous config.
		if _, statErr := os.Stat(w.cache.getConfigFilePath(name)); os.IsNotExist(statErr) {
			w.cache.Remove(name)
			slog.Info("Source configuration removed", "source", name)
			if w.onChange != nil {
				w.onChange(name, nil)
			}
			return
		}
		slog.Error("Failed to reload source configuration", "source", name, "error", err)
		return
	}

	slog.Info("Source configuration reloaded", "source", name, "enabled", cfg.Settings.Enabled)
	if w.onChange != nil {
		w.onChange(name, cfg)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
}
