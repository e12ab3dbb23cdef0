package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler receives a freshly loaded and validated configuration.
type ChangeHandler func(cfg *Config)

// Watcher reloads one config file on change and fans the result out to handlers.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.RWMutex
	handlers []ChangeHandler
}

// NewWatcher watches the directory holding path so editor rename-on-save is seen.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		logger:   logger,
		debounce: 50 * time.Millisecond,
	}, nil
}

// OnChange registers a handler.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Run blocks until ctx is done, reloading the file on write/create/rename.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("Config file event", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Failed to reload config, keeping previous", zap.String("file", w.path), zap.Error(err))
		return
	}
	w.mu.RLock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.RUnlock()

	w.logger.Info("Configuration reloaded", zap.String("file", w.path))
	for _, h := range handlers {
		h(cfg)
	}
}
