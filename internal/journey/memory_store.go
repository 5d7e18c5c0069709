package journey

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	journeys map[uuid.UUID]*Journey
}

// NewMemoryStore creates an in-memory journey store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		journeys: make(map[uuid.UUID]*Journey),
	}
}

func (s *MemoryStore) Save(ctx context.Context, j *Journey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journeys[j.TxID] = j.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, txID uuid.UUID) (*Journey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.journeys[txID]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Journey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Journey, 0, len(s.journeys))
	for _, j := range s.journeys {
		result = append(result, j.Clone())
	}
	return selectPage(result, filter), nil
}

// Report lets the store act as a journey reporter.
func (s *MemoryStore) Report(ctx context.Context, j *Journey) error {
	return s.Save(ctx, j)
}
