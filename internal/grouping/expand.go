package grouping

import "sync"

// ExpandState tracks which groups are expanded. Groups not yet seen are
// reported expanded.
type ExpandState struct {
	mu    sync.Mutex
	state map[string]bool
}

func NewExpandState() *ExpandState {
	return &ExpandState{state: map[string]bool{}}
}

// Reset forgets previous state and marks every named group expanded.
func (s *ExpandState) Reset(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = make(map[string]bool, len(names))
	for _, n := range names {
		s.state[n] = true
	}
}

// Toggle flips one group and returns its new state.
func (s *ExpandState) Toggle(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.state[name]
	if !ok {
		cur = true
	}
	s.state[name] = !cur
	return !cur
}

// SetAll expands or collapses every known group.
func (s *ExpandState) SetAll(expanded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := range s.state {
		s.state[n] = expanded
	}
}

func (s *ExpandState) Expanded(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[name]
	return !ok || v
}

// Snapshot returns a copy of the current state.
func (s *ExpandState) Snapshot() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}
