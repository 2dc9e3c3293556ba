package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig contains watcher settings.
type WatchConfig struct {
	DebounceMillis  int      // Delay before processing (default: 500)
	StabilityMillis int      // File size stability threshold (default: 1000)
	IgnorePatterns  []string // Glob patterns to ignore
}

// DefaultWatchConfig returns a WatchConfig with sensible defaults.
func DefaultWatchConfig() *WatchConfig {
	return &WatchConfig{
		DebounceMillis:  500,
		StabilityMillis: 1000,
		IgnorePatterns:  DefaultIgnorePatterns(),
	}
}

// WatchSummary contains stats from the watch session.
type WatchSummary struct {
	FilesConverted int
	Mismatches     int
	FilesSkipped   int
	Errors         int
	Duration       time.Duration
}

// FileHandler processes a newly arrived file. It reports whether the
// file was converted, whether its name failed entity parsing, or an
// error.
type FileHandler func(path string) (converted bool, mismatched bool, err error)

// Watcher monitors rawdata directories and converts arrivals.
type Watcher struct {
	config    *WatchConfig
	handler   FileHandler
	fsWatcher *fsnotify.Watcher
	filter    *FileFilter
	debouncer *Debouncer
	stability *StabilityChecker
	done      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	mu             sync.Mutex
	filesConverted int
	mismatches     int
	filesSkipped   int
	errors         int
}

// New creates a Watcher. A nil config gets the defaults.
func New(config *WatchConfig, handler FileHandler) *Watcher {
	if config == nil {
		config = DefaultWatchConfig()
	}
	w := &Watcher{
		config:    config,
		handler:   handler,
		filter:    NewFileFilter(config.IgnorePatterns),
		stability: NewStabilityChecker(time.Duration(config.StabilityMillis) * time.Millisecond),
		done:      make(chan struct{}),
	}
	w.debouncer = NewDebouncer(time.Duration(config.DebounceMillis)*time.Millisecond, w.processFile)
	return w
}

// Start begins watching the given directories and their existing
// subdirectories. The watcher runs until Stop is called.
func (w *Watcher) Start(dirs []string) error {
	var err error
	w.fsWatcher, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			w.fsWatcher.Close()
			return err
		}
		if err := w.addTree(absDir); err != nil {
			w.fsWatcher.Close()
			return err
		}
	}

	w.startTime = time.Now()
	w.done = make(chan struct{})

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// addTree registers a directory and every directory below it. fsnotify
// watches are per-directory, not recursive.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsWatcher.Add(path)
		}
		return nil
	})
}

// Stop gracefully shuts down the watcher and returns a session summary.
func (w *Watcher) Stop() *WatchSummary {
	close(w.done)
	w.wg.Wait()
	w.debouncer.CancelAll()

	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return &WatchSummary{
		FilesConverted: w.filesConverted,
		Mismatches:     w.mismatches,
		FilesSkipped:   w.filesSkipped,
		Errors:         w.errors,
		Duration:       time.Since(w.startTime),
	}
}

// processEvents handles file system events from fsnotify.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				// New session or datatype folder: watch it too.
				w.fsWatcher.Add(event.Name)
				continue
			}
			w.handleFileEvent(event.Name)
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleFileEvent(path string) {
	if w.filter.ShouldIgnore(path) {
		w.mu.Lock()
		w.filesSkipped++
		w.mu.Unlock()
		return
	}
	w.debouncer.Add(path)
}

// processFile runs after the debounce delay: wait for the file to stop
// growing, then hand it to the handler.
func (w *Watcher) processFile(path string) {
	if err := w.stability.WaitForStable(path); err != nil {
		w.mu.Lock()
		if err == ErrFileNotFound {
			w.filesSkipped++
		} else {
			w.errors++
		}
		w.mu.Unlock()
		return
	}

	if w.handler == nil {
		w.mu.Lock()
		w.filesSkipped++
		w.mu.Unlock()
		return
	}

	converted, mismatched, err := w.handler(path)
	w.mu.Lock()
	switch {
	case err != nil:
		w.errors++
	case converted:
		w.filesConverted++
	case mismatched:
		w.mismatches++
	default:
		w.filesSkipped++
	}
	w.mu.Unlock()
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	select {
	case <-w.done:
		return false
	default:
		return w.fsWatcher != nil
	}
}
