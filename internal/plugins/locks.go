package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// idLocks serialises install, update and delete of a single plugin id.
// Goroutines in this process queue on a per-id mutex; other processes
// sharing the plugins root are excluded by a lock file under {root}/.locks.
type idLocks struct {
	layout Layout

	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu      sync.Mutex
	waiters int
}

func newIDLocks(layout Layout) *idLocks {
	return &idLocks{
		layout: layout,
		locks:  make(map[string]*idLock),
	}
}

// withLock runs fn while holding the lock for id.
func (l *idLocks) withLock(id string, fn func() error) error {
	lockPath, err := l.layout.LockPath(id)
	if err != nil {
		return err
	}

	entry := l.acquire(id)
	defer l.release(id, entry)

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	fileLock := flock.New(lockPath)
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("acquire lock for %s: %w", id, err)
	}
	defer func() { _ = fileLock.Unlock() }()

	return fn()
}

func (l *idLocks) acquire(id string) *idLock {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &idLock{}
		l.locks[id] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (l *idLocks) release(id string, entry *idLock) {
	entry.mu.Unlock()

	l.mu.Lock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}
