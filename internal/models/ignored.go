package models

import "sync"

// IgnoredSet tracks the keys of notifications the user has explicitly
// dismissed via the dismiss notification. Every entry corresponds to a
// record that was, at some point, tracked as active; stale entries are
// pruned opportunistically during actionability evaluation.
//
// The set is safe for concurrent readers (the status API) while the
// controller loop mutates it.
type IgnoredSet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewIgnoredSet creates an empty IgnoredSet.
func NewIgnoredSet() *IgnoredSet {
	return &IgnoredSet{keys: make(map[string]struct{})}
}

// Add marks a notification key as ignored.
func (s *IgnoredSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}

// Remove drops a key from the set. Removing an absent key is a no-op.
func (s *IgnoredSet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// Contains reports whether the key is ignored.
func (s *IgnoredSet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Clear empties the set wholesale.
func (s *IgnoredSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{})
}

// Len returns the number of ignored keys.
func (s *IgnoredSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Keys returns a copy of the ignored keys.
func (s *IgnoredSet) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	return keys
}

// Replace swaps the set contents for the given keys, used when loading the
// persisted set at startup.
func (s *IgnoredSet) Replace(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
}

// PruneExcept removes every key that does not appear in the keep set.
// It returns the number of pruned entries. Pruning is idempotent.
func (s *IgnoredSet) PruneExcept(keep map[string]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for k := range s.keys {
		if _, ok := keep[k]; !ok {
			delete(s.keys, k)
			pruned++
		}
	}
	return pruned
}
