// Package refwatch notices when another process touches reference files
// while an edit is in progress.
package refwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchedOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Watcher reports whether any of a set of files changed since it was armed.
type Watcher struct {
	watcher *fsnotify.Watcher
	targets map[string]bool
	logger  *zap.Logger

	mu    sync.Mutex
	fired bool
	done  chan struct{}
}

// New starts watching the directories that hold files. Files whose
// directory does not exist yet are skipped.
func New(files []string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating ref watcher: %w", err)
	}

	w := &Watcher{
		watcher: fw,
		targets: make(map[string]bool),
		logger:  logger,
		done:    make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			logger.Debug("not watching missing directory", zap.String("dir", dir))
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ref watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&watchedOps == 0 || !w.targets[filepath.Clean(event.Name)] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.fired = true
	w.logger.Debug("reference file changed",
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()))
}

// Fired reports whether a watched file changed since New.
func (w *Watcher) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
