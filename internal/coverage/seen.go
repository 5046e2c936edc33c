package coverage

import "sync"

// SeenSet is the deduplication oracle for entity ids within a run.
// The in-memory implementation grows with the number of distinct ids.
type SeenSet interface {
	Has(id string) bool
	Add(id string)
	Len() int
}

// MemorySeenSet is a concurrency-safe in-memory SeenSet.
type MemorySeenSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemorySeenSet creates an empty set.
func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{ids: make(map[string]struct{})}
}

// Has reports whether id was added.
func (s *MemorySeenSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add records id.
func (s *MemorySeenSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Len returns the number of ids.
func (s *MemorySeenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
