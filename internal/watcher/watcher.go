// Package watcher provides file system watching with debouncing for the
// executor's config file and plugin directories.
package watcher

import (
	"fmt"
	"path/filepath"
	"time"

	"taskexec/internal/log"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the config file and plugin directories for changes and
// sends debounced reload notifications.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	configPath string
	pluginDirs []string
	debounce   time.Duration
	onChange   chan struct{}
	done       chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// ConfigPath is the config file to watch for changes.
	ConfigPath string
	// PluginDirs are additional module search path directories to watch
	// for additions/removals.
	PluginDirs  []string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(configPath string, pluginDirs []string) Config {
	return Config{
		ConfigPath:  configPath,
		PluginDirs:  pluginDirs,
		DebounceDur: 100 * time.Millisecond,
	}
}

// New creates a new config/plugin-dir watcher.
func New(cfg Config) (*Watcher, error) {
	log.Debug(log.CatWatcher, "creating watcher", "configPath", cfg.ConfigPath, "pluginDirs", cfg.PluginDirs, "debounce", cfg.DebounceDur)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.ErrorErr(log.CatWatcher, "failed to create fsnotify watcher", err)
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher:  fsw,
		configPath: cfg.ConfigPath,
		pluginDirs: cfg.PluginDirs,
		debounce:   cfg.DebounceDur,
		onChange:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory and all plugin
// directories. Returns a channel that receives a signal when any watched
// path changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dirs := map[string]struct{}{}
	if w.configPath != "" {
		dirs[filepath.Dir(w.configPath)] = struct{}{}
	}
	for _, pd := range w.pluginDirs {
		dirs[pd] = struct{}{}
	}

	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			log.ErrorErr(log.CatWatcher, "failed to watch directory", err, "dir", dir)
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
		log.Info(log.CatWatcher, "started watching", "dir", dir)
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	log.Debug(log.CatWatcher, "stopping watcher")
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			log.Debug(log.CatWatcher, "file event received", "file", event.Name, "op", event.Op.String())

			if timer == nil {
				log.Debug(log.CatWatcher, "starting debounce timer", "duration", w.debounce)
				timer = time.NewTimer(w.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				log.Debug(log.CatWatcher, "resetting debounce timer", "duration", w.debounce)
				timer.Reset(w.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				log.Debug(log.CatWatcher, "debounce complete, triggering reload")
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "file watcher error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent checks if the event should trigger a reload: a write,
// create, remove or rename of the config file itself, or of any entry
// directly inside a plugin directory (picking up a newly installed,
// changed or removed plugin module).
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	if w.configPath != "" && event.Name == w.configPath {
		return true
	}

	dir := filepath.Dir(event.Name)
	for _, pd := range w.pluginDirs {
		if dir == pd {
			return true
		}
	}
	return false
}
