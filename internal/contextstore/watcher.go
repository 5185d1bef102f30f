package contextstore

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultWatchDebounce = 200 * time.Millisecond
	defaultWatchPoll     = 10 * time.Second
)

// Watcher observes the on-disk channel file and invokes a callback when it
// grows. It lets the scheduler react to appends from external processes
// (agent CLIs writing through their own store handle) without waiting for
// the controllers' poll floor. If fsnotify cannot be initialized it degrades
// to poll-only.
type Watcher struct {
	channelPath string
	onChange    func()
	logger      *log.Logger
	debounce    time.Duration
	poll        time.Duration

	mu            sync.Mutex
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchPollInterval sets the fallback poll interval.
func WithWatchPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.poll = d }
}

// WithWatchDebounce sets the change-coalescing window.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for the channel file at channelPath. onChange
// is called (debounced) whenever the file changes.
func NewWatcher(channelPath string, onChange func(), logger *log.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		channelPath: channelPath,
		onChange:    onChange,
		logger:      logger,
		debounce:    defaultWatchDebounce,
		poll:        defaultWatchPoll,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start watches until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	watchDir := filepath.Dir(w.channelPath)
	fileName := filepath.Base(w.channelPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("Watcher: fsnotify init failed (%v), using poll-only", err)
	} else if err := watcher.Add(watchDir); err != nil {
		w.logger.Printf("Watcher: fsnotify add %s failed (%v), using poll-only", watchDir, err)
		_ = watcher.Close()
	} else {
		w.watcher = watcher
		w.useFsnotify = true
	}

	if w.useFsnotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx, fileName)
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.cancelDebounce()
			return
		case <-ticker.C:
			w.onChange()
		}
	}
}

func (w *Watcher) watchLoop(ctx context.Context, fileName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher: fsnotify error: %v", err)
		}
	}
}

// scheduleChange coalesces bursts of writes into one callback.
func (w *Watcher) scheduleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) cancelDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
}
