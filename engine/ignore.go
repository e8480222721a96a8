package engine

import "sync"

// IgnoreSet remembers counter-offers that failed with insufficient funds this
// session. It only grows; a process restart is the reset.
type IgnoreSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func NewIgnoreSet() *IgnoreSet {
	return &IgnoreSet{ids: make(map[int64]struct{})}
}

func (s *IgnoreSet) Add(offerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[offerID] = struct{}{}
}

func (s *IgnoreSet) Contains(offerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[offerID]
	return ok
}
