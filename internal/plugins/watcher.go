// This file implements a file system watcher for the plugins root.
// Installs done by another process (e.g. plugin-cli) retarget "current"
// pointers on disk; the watcher notices and asks for a reload.

package plugins

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the plugins root and each plugin directory and calls
// onChange once changes to current pointers or manifests settle.
type Watcher struct {
	root          string
	onChange      func()
	watcher       *fsnotify.Watcher
	mu            sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration
	stopChan      chan struct{}
}

// NewWatcher creates a watcher for root.
func NewWatcher(root string, onChange func()) *Watcher {
	return &Watcher{
		root:          root,
		onChange:      onChange,
		debounceDelay: 2 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// SetDebounceDelay changes how long the watcher waits after the last event.
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.mu.Lock()
	w.debounceDelay = d
	w.mu.Unlock()
}

// Start begins watching. The root is created if missing.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := watcher.Add(w.root); err != nil {
		watcher.Close()
		return err
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		watcher.Close()
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			if err := watcher.Add(filepath.Join(w.root, entry.Name())); err != nil {
				log.Printf("Plugin watcher: cannot watch %s: %v", entry.Name(), err)
			}
		}
	}

	log.Printf("Plugin watcher started for: %s", w.root)
	go w.processEvents()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopChan)

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) processEvents() {
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
			log.Printf("Plugin watcher error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	relevant := name == currentName || name == distFileName
	if filepath.Dir(event.Name) == filepath.Clean(w.root) {
		// A plugin directory appeared or went away.
		if event.Op&fsnotify.Create == fsnotify.Create {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.watcher.Add(event.Name)
			}
		}
		relevant = event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
	}
	if !relevant {
		return
	}

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.trigger)
	w.mu.Unlock()
}

func (w *Watcher) trigger() {
	select {
	case <-w.stopChan:
		return
	default:
	}
	log.Printf("Plugin watcher detected changes in %s", w.root)
	w.onChange()
}
