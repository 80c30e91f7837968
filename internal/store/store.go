// Package store provides the flat in-memory key-value mapping behind the
// server. A single mutex serializes every operation; there is no reader
// path that bypasses it.
package store

import "sync"

// Store is the sole mutable shared state of the server. Construct one with
// New and pass it into the command table; it lives as long as the process.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value and whether the key is present.
// A present key holding an empty value is distinct from a missing key.
// Values are copied both in and out, so callers never share a slice with
// the store.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Set upserts key unconditionally.
func (s *Store) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
}

// Delete removes key if present and reports whether it was.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	return true
}

// Flush clears all entries in place and returns the count removed.
func (s *Store) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.data)
	clear(s.data)
	return n
}

// Result is one per-key lookup outcome of MGet.
type Result struct {
	Value []byte
	Found bool
}

// MGet looks up keys in order under a single lock acquisition. Missing keys
// yield a Result with Found=false at their position.
func (s *Store) MGet(keys ...string) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(keys))
	for i, key := range keys {
		v, ok := s.data[key]
		if ok {
			v = append([]byte(nil), v...)
		}
		out[i] = Result{Value: v, Found: ok}
	}
	return out
}

// Pair is one key/value of an MSet batch.
type Pair struct {
	Key   string
	Value []byte
}

// MSet applies pairs left to right under a single lock acquisition, the
// later of duplicate keys winning, and returns the number applied.
func (s *Store) MSet(pairs ...Pair) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.data[p.Key] = append([]byte(nil), p.Value...)
	}
	return len(pairs)
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
