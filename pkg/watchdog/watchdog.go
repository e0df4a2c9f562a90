package watchdog

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FilterFunc decides whether a created file is forwarded. Returning false
// drops the event.
type FilterFunc func(string) bool

// WatchDog forwards file-creation events from a set of directories into a
// notification channel. Fuzzer workers only ever create files in their
// output directories, so creation is the only event that matters.
type WatchDog struct {
	watchCtx   context.Context
	notifyChan chan<- string
	filter     FilterFunc
	logger     *zap.Logger

	watcher *fsnotify.Watcher
}

// New starts a WatchDog. The notify channel is owned by the watchdog and
// closed once watchCtx is done. A nil filter forwards every event.
func New(watchCtx context.Context, logger *zap.Logger, notifyChan chan<- string, filter FilterFunc) (*WatchDog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &WatchDog{
		watchCtx:   watchCtx,
		notifyChan: notifyChan,
		filter:     filter,
		logger:     logger,
		watcher:    watcher,
	}

	go w.watch()
	return w, nil
}

// AddDir adds a directory to the watch list. Missing directories are
// logged and skipped; callers poll until fuzzer output dirs appear.
func (w *WatchDog) AddDir(dir string) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		w.logger.Error("failed to resolve watch dir", zap.String("dir", dir), zap.Error(err))
		return
	}
	if _, err := os.Stat(absDir); os.IsNotExist(err) {
		w.logger.Error("watch dir does not exist", zap.String("dir", absDir))
		return
	}
	if err := w.watcher.Add(absDir); err != nil {
		w.logger.Error("failed to watch dir", zap.String("dir", absDir), zap.Error(err))
		return
	}
	w.logger.Debug("watching dir", zap.String("dir", absDir))
}

func (w *WatchDog) watch() {
	defer w.watcher.Close()
	defer close(w.notifyChan)
	for {
		select {
		case <-w.watchCtx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (w *WatchDog) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != fsnotify.Create {
		return
	}
	if w.filter != nil && !w.filter(event.Name) {
		w.logger.Debug("file ignored by filter", zap.String("file", event.Name))
		return
	}
	select {
	case w.notifyChan <- event.Name:
	case <-w.watchCtx.Done():
	}
}
