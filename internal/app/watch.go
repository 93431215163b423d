package app

import (
	"os"
	"sync"
	"time"

	"magellan/internal/logging"

	"github.com/pkg/errors"
)

// FileWatcher polls a file's modification time and calls back when it
// changes. The viewer uses it to pick up edits to its config file.
type FileWatcher struct {
	path     string
	interval time.Duration

	mu       sync.Mutex
	baseline time.Time
	onChange func(path string)

	stopCh chan struct{}
	done   chan struct{}
}

// NewFileWatcher records the current modification time of path as the
// baseline.
func NewFileWatcher(path string, interval time.Duration) (*FileWatcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "watch")
	}
	return &FileWatcher{
		path:     path,
		interval: interval,
		baseline: info.ModTime(),
	}, nil
}

// OnChange sets the callback. It runs on the watcher goroutine.
func (w *FileWatcher) OnChange(callback func(path string)) {
	w.mu.Lock()
	w.onChange = callback
	w.mu.Unlock()
}

// Start begins polling in a background goroutine.
func (w *FileWatcher) Start() {
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.watchLoop()
}

// Stop stops polling and waits for the goroutine to exit.
func (w *FileWatcher) Stop() {
	close(w.stopCh)
	<-w.done
}

func (w *FileWatcher) watchLoop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check compares the modification time against the baseline once, moves the
// baseline and fires the callback if the file changed. It reports whether it
// did.
func (w *FileWatcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	changed := info.ModTime().After(w.baseline)
	if changed {
		w.baseline = info.ModTime()
	}
	callback := w.onChange
	w.mu.Unlock()

	if changed {
		logging.Logger().Info("file changed", "path", w.path)
		if callback != nil {
			callback(w.path)
		}
	}
	return changed
}
