// Package kvstore defines the durable key-value store the matching client
// persists its selection state through. The core depends only on get/set/
// delete by string key; the engine behind it is injected.
package kvstore

import (
	"context"
	"sync"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
)

// ErrNotFound is returned by Get for missing keys.
const ErrNotFound domain.Error = "key not found"

// Store is the injected persistence interface.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the in-process implementation, used as the default backend
// and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}
