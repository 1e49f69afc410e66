package orchestrator

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor or config manager
// emits while rewriting the rule file.
const reloadDebounce = 500 * time.Millisecond

// Watcher hot-reloads the rule table when the rule file changes on disk. A
// reload that fails to parse or validate keeps the previous table; the
// engine never runs without rules.
type Watcher struct {
	path   string
	orch   *Orchestrator
	logger *slog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given rule file.
func NewWatcher(path string, orch *Orchestrator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:   filepath.Clean(path),
		orch:   orch,
		logger: logger.With("component", "rule_watcher"),
		stopCh: make(chan struct{}),
	}
}

// Start begins watching the rule file's directory. Watching the directory
// rather than the file keeps reloads working across the rename-then-replace
// writes most tools use.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("watching rule file", "path", w.path)
	return nil
}

// Stop ends the watch loop and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug("rule file event", "op", event.Op.String())
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("rule watcher error", "error", err.Error())
		}
	}
}

// scheduleReload resets the debounce timer so a flurry of writes produces a
// single reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	table, err := LoadRuleTable(w.path)
	if err != nil {
		w.logger.Error("rule reload failed, keeping previous table", "error", err.Error())
		return
	}
	w.orch.ReplaceTable(table)
}
