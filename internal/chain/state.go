package chain

import (
	"sync"
)

// State holds values extracted from responses during one run. It is safe
// for concurrent use; parallel runs merge into it from several goroutines.
type State struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewState creates an empty chain state.
func NewState() *State {
	return &State{
		vars: make(map[string]string),
	}
}

// Set stores a variable in the state.
func (s *State) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[key] = value
}

// Get retrieves a variable from the state.
func (s *State) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.vars[key]
	return val, ok
}

// GetAll returns a copy of all variables in the state.
func (s *State) GetAll() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copiedVars := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		copiedVars[k] = v
	}
	return copiedVars
}

// MergeMap adds all key-value pairs from newVars, overwriting existing keys.
func (s *State) MergeMap(newVars map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range newVars {
		s.vars[key] = value
	}
}

// Len returns the number of stored variables.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

// Reset empties the state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = make(map[string]string)
}

// Overlay returns base overridden by the state: on a key collision the
// chained value wins. Neither input is modified.
func (s *State) Overlay(base map[string]string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	merged := make(map[string]string, len(base)+len(s.vars))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range s.vars {
		merged[k] = v
	}
	return merged
}
