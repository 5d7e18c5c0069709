package guard

import (
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// seenSet remembers the most recent identifiers, evicting the oldest once
// capacity is reached. Lookups do not refresh an entry.
type seenSet struct {
	cache *lru.Cache
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	cache, _ := lru.New(capacity) // Never errors for positive size.
	return &seenSet{cache: cache}
}

func (s *seenSet) contains(id uuid.UUID) bool {
	return s.cache.Contains(id)
}

func (s *seenSet) add(id uuid.UUID) {
	s.cache.ContainsOrAdd(id, struct{}{})
}

func (s *seenSet) len() int {
	return s.cache.Len()
}
