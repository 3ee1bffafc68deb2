// Package catalog reloads the cost catalog from its YAML file when the file
// changes, so cost and limit changes need no redeploy.
package catalog

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/ineyio/creditledger"
)

// Watcher serves the most recently loaded valid catalog. Each reload swaps the
// whole catalog, so a ledger operation always reads one consistent table.
type Watcher struct {
	path     string
	logger   *slog.Logger
	current  atomic.Pointer[creditledger.Catalog]
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	closing  sync.Once
	closeErr error

	// OnReload, if set before Start, is called after every successful reload.
	OnReload func(*creditledger.Catalog)
}

var _ creditledger.CatalogSource = (*Watcher)(nil)

// NewWatcher loads the catalog at path. It fails if the initial file is invalid.
// If logger is nil, slog.Default() is used.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: filepath.Clean(path), logger: logger, done: make(chan struct{})}
	cat, err := load(w.path)
	if err != nil {
		return nil, err
	}
	w.current.Store(cat)
	return w, nil
}

// Catalog returns the current catalog.
func (w *Watcher) Catalog() *creditledger.Catalog {
	return w.current.Load()
}

// Start begins watching the catalog file. The parent directory is watched so
// that editors replacing the file by rename are noticed.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creditledger/catalog: watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("creditledger/catalog: watch %s: %w", w.path, err)
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Close stops watching. It is safe to call more than once, and when Start was
// never called.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	w.closing.Do(func() {
		close(w.done)
		w.closeErr = w.watcher.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog_watch_error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cat, err := load(w.path)
	if err != nil {
		w.logger.Warn("catalog_reload_rejected", "path", w.path, "error", err)
		return
	}
	w.current.Store(cat)
	w.logger.Info("catalog_reloaded", "path", w.path, "services", len(cat.Services()))
	if w.OnReload != nil {
		w.OnReload(cat)
	}
}

func load(path string) (*creditledger.Catalog, error) {
	cfg, err := creditledger.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Catalog()
}
