package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher watches a configuration file and reloads it when it changes
type Watcher struct {
	// Configuration file path
	configFile string

	// Configuration loader
	loader *Loader

	// Current configuration
	config   *Config
	configMu sync.RWMutex

	// File system watcher
	fsWatcher *fsnotify.Watcher

	// Event callbacks
	callbacks   []ConfigChangeCallback
	callbacksMu sync.RWMutex

	logger   *zap.Logger
	debounce time.Duration

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for goroutines
	wg sync.WaitGroup
}

// ConfigChangeCallback is called when configuration changes
type ConfigChangeCallback func(oldConfig, newConfig *Config)

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger of the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets how long the watcher waits for a burst of file events
// to settle before reloading
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher and loads the initial configuration
func NewWatcher(configFile string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if _, err := FormatOf(configFile); err != nil {
		return nil, err
	}
	config, err := loader.LoadFromFile(configFile)
	if err != nil {
		return nil, errors.Annotate(err, "load initial config")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ErrConfigWatch.Wrap(err).GenWithStackByArgs(configFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		configFile: filepath.Clean(configFile),
		loader:     loader,
		config:     config,
		fsWatcher:  fsWatcher,
		logger:     zap.NewNop(),
		debounce:   defaultDebounce,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start starts watching the configuration file. The directory is watched so
// that editors replacing the file are noticed.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.configFile)); err != nil {
		return ErrConfigWatch.Wrap(err).GenWithStackByArgs(w.configFile)
	}
	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop stops watching the configuration file
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return errors.Trace(err)
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}

// OnConfigChange registers a callback for configuration changes
func (w *Watcher) OnConfigChange(callback ConfigChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload manually reloads the configuration
func (w *Watcher) Reload() error {
	return w.reloadConfig()
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	// a burst of events restarts the timer; the reload runs on this goroutine
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if err := w.reloadConfig(); err != nil {
				w.logger.Warn("failed to reload config",
					zap.String("file", w.configFile), zap.Error(err))
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reloadConfig reloads the configuration from file. The current
// configuration is kept if the file does not load.
func (w *Watcher) reloadConfig() error {
	newConfig, err := w.loader.LoadFromFile(w.configFile)
	if err != nil {
		return err
	}

	w.configMu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.configMu.Unlock()

	w.notifyCallbacks(oldConfig, newConfig)
	w.logger.Info("configuration reloaded", zap.String("file", w.configFile))
	return nil
}

// notifyCallbacks calls the callbacks in registration order. A panicking
// callback does not prevent the others from running.
func (w *Watcher) notifyCallbacks(oldConfig, newConfig *Config) {
	w.callbacksMu.RLock()
	callbacks := make([]ConfigChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.callbacksMu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("config change callback panicked", zap.Any("panic", r))
				}
			}()
			cb(oldConfig, newConfig)
		}()
	}
}
