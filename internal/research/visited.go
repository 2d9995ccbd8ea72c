package research

import "sync"

type visitedSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newVisitedSet() *visitedSet {
	return &visitedSet{keys: make(map[string]struct{})}
}

func (s *visitedSet) Mark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *visitedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *visitedSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{})
}
