package gwconfig

import (
	"path/filepath"
	"time"

	"github.com/Laisky/zap"
	"github.com/fsnotify/fsnotify"

	"github.com/proxycast/gateway/common/logger"
)

// Watcher debounces filesystem write/create events on config.yaml's parent
// directory into Store.Reload calls (spec.md §4.A "hot-reload on file
// change"). No pack repo that ships this gateway's own stack actually
// imports fsnotify end to end — BaSui01-agentflow's config/watcher.go
// documents watching the file but is a polling-only fallback with no
// fsnotify import at all — so this is grounded directly on the one genuine
// usage in the retrieval pack, a standalone settings-sync daemon
// (other_examples/9ff80eee_helixml-helix__api-cmd-settings-sync-daemon-main.go.go),
// whose startWatcher watches a file's parent directory (to survive atomic
// renames) and filters events down to fsnotify.Write|fsnotify.Create.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	store   *Store
	debounce time.Duration
	done    chan struct{}
}

// NewWatcher creates a Watcher for path (config.yaml's full path), without
// starting it yet.
func NewWatcher(path string, store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		path:     path,
		store:    store,
		debounce: 300 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop in a background goroutine until Close is called.
// A write or create on the watched directory whose basename matches the
// config file's name triggers a debounced Store.Reload.
func (w *Watcher) Start() {
	go func() {
		base := filepath.Base(w.path)
		var debounceTimer *time.Timer

		reload := func() {
			outcome, err := w.store.Reload(w.path)
			if err != nil {
				logger.Logger.Warn("config hot-reload failed, keeping previous config",
					zap.Error(err), zap.String("outcome", string(outcome)))
				return
			}
			logger.Logger.Info("config hot-reloaded", zap.String("outcome", string(outcome)))
		}

		for {
			select {
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, reload)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logger.Logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
}

// Close stops the watcher and releases its inotify/kqueue handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
