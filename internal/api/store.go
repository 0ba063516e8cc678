package api

import (
	"sync"

	"github.com/google/uuid"
)

type GenerationStore struct {
	mu          sync.Mutex
	generations map[string]*Generation
	order       []string
	limit       int
}

// NewGenerationStore keeps at most limit generations, evicting the oldest.
// A limit of zero keeps everything.
func NewGenerationStore(limit int) *GenerationStore {
	return &GenerationStore{
		generations: make(map[string]*Generation),
		limit:       limit,
	}
}

func (s *GenerationStore) Save(g Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[g.ID]; !ok {
		s.order = append(s.order, g.ID)
	}
	s.generations[g.ID] = &g
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.generations, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *GenerationStore) Get(id string) (Generation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok {
		return Generation{}, false
	}
	return *g, true
}

func (s *GenerationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[id]; !ok {
		return false
	}
	delete(s.generations, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *GenerationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generations)
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
