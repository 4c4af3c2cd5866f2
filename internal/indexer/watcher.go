package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/logging"
)

// RunFunc receives the outcome of every run triggered by the watcher.
type RunFunc func(result *Result, err error)

// Watcher watches the search root and re-runs the indexer after changes
// to recognized files settle.
type Watcher struct {
	indexer      *Indexer
	rootDir      string
	watcher      *fsnotify.Watcher
	debounceTime time.Duration
	onRun        RunFunc
	logger       *zap.SugaredLogger
	stopCh       chan struct{}
	doneCh       chan struct{}
	stopOnce     sync.Once
}

// NewWatcher creates a watcher over the indexer's root. onRun may be nil.
func NewWatcher(ix *Indexer, debounce time.Duration, onRun RunFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if onRun == nil {
		onRun = func(*Result, error) {}
	}

	w := &Watcher{
		indexer:      ix,
		rootDir:      ix.cfg.RootDir,
		watcher:      fw,
		debounceTime: debounce,
		onRun:        onRun,
		logger:       ix.logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	if err := w.addDirectoriesRecursively(w.rootDir); err != nil {
		fw.Close()
		return nil, err
	}

	return w, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops the watcher and waits for any in-progress run to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		w.watcher.Close()
	})
}

// watch is the main event loop with debouncing logic.
func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	var debounceTimer *time.Timer
	rerunCh := make(chan struct{}, 1)
	changed := make(map[string]bool)

	stopTimer := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return

		case <-w.stopCh:
			stopTimer()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.shouldProcessEvent(event) {
				continue
			}

			rel, _ := filepath.Rel(w.rootDir, event.Name)
			changed[rel] = true

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.shouldWatchDirectory(event.Name) {
					if err := w.addDirectoriesRecursively(event.Name); err != nil {
						w.logger.Warnw("Failed to watch new directory", logging.FieldPath, event.Name, logging.FieldError, err)
					}
				}
			}

			stopTimer()
			debounceTimer = time.AfterFunc(w.debounceTime, func() {
				select {
				case rerunCh <- struct{}{}:
				default:
				}
			})

		case <-rerunCh:
			w.rerun(ctx, changed)
			changed = make(map[string]bool)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("File watcher error", logging.FieldError, err)
		}
	}
}

func (w *Watcher) rerun(ctx context.Context, changed map[string]bool) {
	if len(changed) == 0 {
		return
	}

	w.logger.Infow("Re-running after changes", logging.FieldCount, len(changed))
	result, err := w.indexer.Run(ctx)
	if err != nil {
		w.logger.Errorw("Run failed", logging.FieldError, err)
	}
	w.onRun(result, err)
}

// shouldProcessEvent checks if an event should trigger a run. Directory
// events count too, since new or removed directories may hold containers.
func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	rel, err := filepath.Rel(w.rootDir, event.Name)
	if err != nil {
		return false
	}
	if w.indexer.discovery.shouldIgnore(filepath.ToSlash(rel)) {
		return false
	}

	if _, ok := w.indexer.classifier.Classify(event.Name); ok {
		return true
	}
	// Sidecars (.prj, .tfw, .dbf) change a sibling's footprint.
	if _, ok := sidecarExts[strings.ToLower(filepath.Ext(event.Name))]; ok {
		return true
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		return true
	}
	info, err := os.Stat(event.Name)
	return err == nil && info.IsDir()
}

var sidecarExts = map[string]struct{}{
	".prj": {}, ".tfw": {}, ".tifw": {}, ".wld": {}, ".dbf": {}, ".shx": {},
}

// shouldWatchDirectory checks if a directory should be watched.
func (w *Watcher) shouldWatchDirectory(path string) bool {
	rel, err := filepath.Rel(w.rootDir, path)
	if err != nil {
		return false
	}
	return !w.indexer.discovery.shouldIgnore(filepath.ToSlash(rel))
}

// addDirectoriesRecursively adds all directories in the tree to the watcher.
func (w *Watcher) addDirectoriesRecursively(rootPath string) error {
	return filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.logger.Warnw("Error accessing path", logging.FieldPath, path, logging.FieldError, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if !w.shouldWatchDirectory(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warnw("Failed to watch directory", logging.FieldPath, path, logging.FieldError, err)
		}
		return nil
	})
}
