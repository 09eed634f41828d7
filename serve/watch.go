package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

// reloadDebounce coalesces the bursts of events a single save produces.
const reloadDebounce = 200 * time.Millisecond

// configWatcher reloads the config file when it changes on disk.
type configWatcher struct {
	path     string
	server   *Server
	verbose  bool
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// newConfigWatcher watches the directory holding path, since editors and
// atomic writers replace the file rather than modifying it in place.
func newConfigWatcher(path string, server *Server, verbose bool) (*configWatcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &configWatcher{
		path:     filepath.Clean(path),
		server:   server,
		verbose:  verbose,
		debounce: reloadDebounce,
		watcher:  w,
	}, nil
}

// Run processes events until ctx is done.
func (cw *configWatcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()

	timer := time.NewTimer(cw.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(cw.debounce)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)

		case <-timer.C:
			cw.reload()
		}
	}
}

func (cw *configWatcher) reload() {
	cfg, err := cmdbridge.LoadConfig(cw.path)
	if err != nil {
		slog.Warn("config reload failed", "path", cw.path, "error", err)
		return
	}
	for _, w := range cmdbridge.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}
	setLevel(cfg.LogLevel, cw.verbose)
	if cw.server.reload(cfg) {
		slog.Info("config reloaded",
			"path", cw.path,
			"host", cfg.OllamaHost,
			"port", cfg.OllamaPort,
			"model", cfg.OllamaModel,
		)
	}
}
