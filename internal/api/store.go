package api

import "sync"

const defaultStoreCapacity = 256

// GenerationStore keeps the most recent generations by id. The oldest entry
// is evicted once capacity is reached.
type GenerationStore struct {
	mu       sync.Mutex
	capacity int
	order    []string
	records  map[string]Generation
}

func NewGenerationStore(capacity int) *GenerationStore {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &GenerationStore{
		capacity: capacity,
		records:  make(map[string]Generation),
	}
}

// Put inserts or replaces gen.
func (s *GenerationStore) Put(gen Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[gen.ID]; !ok {
		if len(s.order) == s.capacity {
			delete(s.records, s.order[0])
			s.order = s.order[1:]
		}
		s.order = append(s.order, gen.ID)
	}
	s.records[gen.ID] = gen
}

func (s *GenerationStore) Get(id string) (Generation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.records[id]
	return gen, ok
}

func (s *GenerationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
