package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zhubert/codex-bridge/logger"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk.
//
// The parent directory is watched rather than the file, since editors often
// save by writing a temp file and renaming it into place.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onReload func(*Config)
}

// NewWatcher watches path and calls onReload with each successfully parsed
// version. Changes closer together than debounce are coalesced; zero picks a
// default. The directory is created if needed.
func NewWatcher(path string, debounce time.Duration, onReload func(*Config)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config has no file path")
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{watcher: fw, path: path, debounce: debounce, onReload: onReload}, nil
}

// Run processes file events until ctx is cancelled, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	log := logger.WithComponent("config-watcher")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("config file changed", "path", event.Name, "op", event.Op.String())
			pending = time.After(w.debounce)

		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				// Keep running with the previous config
				log.Warn("ignoring invalid config change", "path", w.path, "error", err)
				continue
			}
			log.Info("config reloaded", "path", w.path)
			w.onReload(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}
