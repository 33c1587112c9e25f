// Package memory is the pure in-memory semantic.Persister used when no
// durable backend is configured. Grounded on the teacher's memoryVector
// (internal/persistence/databases/memory_vector.go): a mutex-guarded map.
// Records are stored and returned by value, but their slices (embedding,
// metadata lists) are not copied and stay shared with the caller.
package memory

import (
	"context"
	"sync"

	"osqr/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	byKey map[string]model.SemanticMemory // userID+"/"+id
}

func New() *Store {
	return &Store{byKey: make(map[string]model.SemanticMemory)}
}

func key(userID, id string) string { return userID + "/" + id }

func (s *Store) Save(_ context.Context, m model.SemanticMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key(m.UserID, m.ID)] = m
	return nil
}

func (s *Store) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, key(userID, id))
	return nil
}

func (s *Store) LoadAll(_ context.Context, userID string) ([]model.SemanticMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := userID + "/"
	out := make([]model.SemanticMemory, 0)
	for k, m := range s.byKey {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, m)
		}
	}
	return out, nil
}
