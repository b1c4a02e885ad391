package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// State accumulates step outputs for a single run. Only the runner writes to
// it, and only after a successful attempt. Keys are never removed; later
// writes replace earlier values.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState returns a State seeded with a copy of initial.
func NewState(initial map[string]any) *State {
	values := make(map[string]any, len(initial))
	maps.Copy(values, initial)
	return &State{values: values}
}

// Merge copies every key of output into the state.
func (s *State) Merge(output map[string]any) {
	if len(output) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any, len(output))
	}
	maps.Copy(s.values, output)
}

// Snapshot returns a copy of the accumulated values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// View returns a read-only handle over the state.
func (s *State) View() Values {
	return Values{state: s}
}

// Values is the read-only view a step action receives.
type Values struct {
	state *State
}

// Get returns the value stored under key.
func (v Values) Get(key string) (any, bool) {
	if v.state == nil {
		return nil, false
	}
	v.state.mu.RLock()
	defer v.state.mu.RUnlock()
	value, ok := v.state.values[key]
	return value, ok
}

// String returns the value under key formatted as a string. Missing keys and
// nil values report false.
func (v Values) String(key string) (string, bool) {
	value, ok := v.Get(key)
	if !ok || value == nil {
		return "", false
	}
	if s, ok := value.(string); ok {
		return s, true
	}
	return fmt.Sprint(value), true
}

// Keys returns the stored keys in sorted order.
func (v Values) Keys() []string {
	if v.state == nil {
		return nil
	}
	v.state.mu.RLock()
	defer v.state.mu.RUnlock()
	return slices.Sorted(maps.Keys(v.state.values))
}

// Len reports how many keys are stored.
func (v Values) Len() int {
	if v.state == nil {
		return 0
	}
	v.state.mu.RLock()
	defer v.state.mu.RUnlock()
	return len(v.state.values)
}
