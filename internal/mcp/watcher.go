// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader re-reads persisted configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Watcher monitors the registry file and reloads the registry when it changes.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher
	fsWatcher *fsnotify.Watcher

	// target is notified of changes
	target Reloader

	// path is the absolute path of the watched file
	path string

	// logger is used for structured logging
	logger *slog.Logger

	// debounceDelay is the delay before reloading after file changes
	debounceDelay time.Duration

	// onReload observes each reload result (optional)
	onReload func(error)

	// pending is the debounced reload, if any
	pending *time.Timer

	// mu protects pending
	mu sync.Mutex

	// ctx is the watcher's lifecycle context
	ctx context.Context

	// cancel stops the watcher
	cancel context.CancelFunc

	// wg tracks active goroutines
	wg sync.WaitGroup
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Target is reloaded on change
	Target Reloader

	// Path is the registry file to watch
	Path string

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay is the delay before reloading after file changes (defaults to 200ms)
	DebounceDelay time.Duration

	// OnReload observes each reload result (optional)
	OnReload func(error)
}

// NewWatcher starts watching the registry file. The parent directory is
// watched so atomic replace-by-rename writes are seen.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Target == nil {
		return nil, fmt.Errorf("target is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		target:        cfg.Target,
		path:          absPath,
		logger:        logger,
		debounceDelay: debounceDelay,
		onReload:      cfg.OnReload,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.logger.Debug("watching registry file", "path", absPath)

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// processEvents filters directory events down to the registry file.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil || absPath != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.scheduleReload()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// scheduleReload debounces bursts of events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.triggerReload)
}

func (w *Watcher) triggerReload() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	w.logger.Info("registry file changed, reloading", "path", w.path)

	err := w.target.Reload(w.ctx)
	if err != nil {
		w.logger.Error("failed to reload registry", "path", w.path, "error", err)
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	w.wg.Wait()

	return w.fsWatcher.Close()
}
