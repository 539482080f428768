// Package configuration holds the live publisher configuration that
// plugins extend.
package configuration

import (
	"sync"

	"github.com/pdellaert/fbw-installer/internal/models"
)

// Store is an in-memory publisher list safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	publishers []models.Publisher
	onChange   func([]models.Publisher)
}

// NewStore creates a store seeded with publishers.
func NewStore(publishers ...models.Publisher) *Store {
	return &Store{publishers: append([]models.Publisher(nil), publishers...)}
}

// OnChange registers fn to be called with a snapshot after every change.
func (s *Store) OnChange(fn func([]models.Publisher)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Publishers returns a copy of the configured publishers.
func (s *Store) Publishers() []models.Publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Publisher looks a publisher up by key.
func (s *Store) Publisher(key string) (models.Publisher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.publishers {
		if p.Key == key {
			return p, true
		}
	}
	return models.Publisher{}, false
}

// AddPublisher appends publisher.
func (s *Store) AddPublisher(publisher models.Publisher) {
	s.mu.Lock()
	s.publishers = append(s.publishers, publisher)
	snapshot, fn := s.snapshot(), s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// RemovePublisher removes the publisher with the same key, if any.
func (s *Store) RemovePublisher(publisher models.Publisher) {
	s.mu.Lock()
	kept := s.publishers[:0]
	removed := false
	for _, p := range s.publishers {
		if p.Key == publisher.Key {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	s.publishers = kept
	snapshot, fn := s.snapshot(), s.onChange
	s.mu.Unlock()

	if removed && fn != nil {
		fn(snapshot)
	}
}

func (s *Store) snapshot() []models.Publisher {
	out := make([]models.Publisher, len(s.publishers))
	copy(out, s.publishers)
	return out
}
