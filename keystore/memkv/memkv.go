// Package memkv provides an in-memory keystore.ExternalStore: a
// reference implementation useful for tests and for callers with no
// durable backing store.
package memkv

import (
	"sync"

	"github.com/xx-net/wacore/keystore"
)

// Store is a map-backed keystore.ExternalStore. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	values map[keystore.Key][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{values: make(map[keystore.Key][]byte)}
}

func (s *Store) Get(keys []keystore.Key) (map[keystore.Key][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[keystore.Key][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) Set(values map[keystore.Key][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[keystore.Key][]byte)
	return nil
}
