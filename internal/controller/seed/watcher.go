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

package seed

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keduman/workflow-app/internal/controller/metrics"
	"github.com/keduman/workflow-app/internal/log"
)

// DefaultDebounce is the quiet period before a changed file is reloaded.
const DefaultDebounce = 250 * time.Millisecond

// WatchConfig configures a Watcher.
type WatchConfig struct {
	// Path is the seed file to watch.
	Path string

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Logger for watcher events. If nil, uses slog.Default()
	Logger *slog.Logger

	// OnReload is called after each successful reload, typically to
	// invalidate caches in front of the backend.
	OnReload func(*Result)
}

// Watcher reloads a seed file whenever it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// editors which save by renaming a temporary file are still seen.
type Watcher struct {
	path      string
	store     Writer
	cfg       WatchConfig
	fsw       *fsnotify.Watcher
	debouncer *debouncer
	logger    *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Watch starts watching cfg.Path and applying it to store on change. The
// file is not loaded up front; call Load first for the initial import.
func Watch(ctx context.Context, store Writer, cfg WatchConfig) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:   path,
		store:  store,
		cfg:    cfg,
		fsw:    fsw,
		logger: log.WithComponent(logger, "seed").With(slog.String("path", path)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.debouncer = newDebouncer(cfg.Debounce, func(string) { w.reload() })

	go w.eventLoop()
	w.logger.Info("seed watcher started")
	return w, nil
}

// Close stops the watcher and waits for its event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()
		w.debouncer.Stop()
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("seed watcher stopped")
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
			w.logger.Error("seed watcher error", log.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	// A removed or renamed-away file is left alone until it reappears.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		w.logger.Debug("ignoring seed file event", slog.String("op", event.Op.String()))
		return
	}
	w.debouncer.Trigger(w.path)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}

	start := time.Now()
	result, err := Load(w.ctx, w.path, w.store)
	metrics.RecordSeedReload(err == nil)
	if err != nil {
		w.logger.Error("seed reload failed", log.Error(err))
		return
	}

	if w.cfg.OnReload != nil {
		w.cfg.OnReload(result)
	}
	w.logger.Info("seed reloaded",
		slog.Int("identities", result.Identities),
		slog.Int("workflows", result.Workflows),
		log.Duration("duration", time.Since(start).Milliseconds()))
}
