package watchdog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type WatchDogFactory struct {
	logger *zap.Logger
}

// FilterFunc reports whether a created file should be forwarded.
type FilterFunc func(string) bool

type WatchDog struct {
	watchCtx   context.Context
	notifyChan chan<- string
	filter     FilterFunc
	logger     *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewWatchDogFactory(logger *zap.Logger) *WatchDogFactory {
	return &WatchDogFactory{
		logger: logger.Named("watchdog"),
	}
}

// New starts a watcher that forwards file creation events.
//
// - `watchCtx` bounds the watcher's lifetime; notifyChan is closed once it is done.
//
// - `filter` drops events it returns false for. A nil filter forwards everything.
func (w *WatchDogFactory) New(watchCtx context.Context, notifyChan chan<- string, filter FilterFunc) (*WatchDog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	watchDog := &WatchDog{
		watchCtx:   watchCtx,
		notifyChan: notifyChan,
		filter:     filter,
		logger:     w.logger,
		watcher:    watcher,
		done:       make(chan struct{}),
	}

	go watchDog.watch()

	return watchDog, nil
}

// AddDir adds a directory to the watch list
func (w *WatchDog) AddDir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path of %s: %w", dir, err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("cannot watch %s: %w", absDir, err)
	}
	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to add %s to watcher: %w", absDir, err)
	}
	w.logger.Debug("Added directory to watch list", zap.String("dir", absDir))
	return nil
}

// Done is closed after the watcher stopped and the notify channel was closed.
func (w *WatchDog) Done() <-chan struct{} {
	return w.done
}

func (w *WatchDog) watch() {
	defer close(w.done)
	defer w.watcher.Close()
	defer close(w.notifyChan)
	for {
		select {
		case <-w.watchCtx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Debug("fsnotify channel closed")
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Debug("fsnotify error channel closed")
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (w *WatchDog) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}
	if w.filter != nil && !w.filter(event.Name) {
		w.logger.Debug("File ignored by filter", zap.String("file", event.Name))
		return
	}
	select {
	case w.notifyChan <- event.Name:
	case <-w.watchCtx.Done():
	}
}
