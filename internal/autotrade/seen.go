package autotrade

import (
	"sync"
	"time"
)

// seenSet remembers opportunity ids a trader has already acted on, with a
// time-to-live so the set does not grow without bound over the trader's
// lifetime. Safe for concurrent use.
type seenSet struct {
	ids map[string]time.Time
	ttl time.Duration
	mu  sync.Mutex
}

func newSeenSet(ttl time.Duration) *seenSet {
	return &seenSet{ids: make(map[string]time.Time), ttl: ttl}
}

// MarkIfNew records the id and returns true if it was not already present
// within the TTL window. A false return means the trader has recently acted
// on this id and must skip it.
func (s *seenSet) MarkIfNew(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if last, ok := s.ids[id]; ok && now.Sub(last) < s.ttl {
		return false
	}
	s.ids[id] = now
	return true
}

// Cleanup drops expired entries. Called once per trader cycle.
func (s *seenSet) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, ts := range s.ids {
		if now.Sub(ts) >= s.ttl {
			delete(s.ids, id)
		}
	}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
