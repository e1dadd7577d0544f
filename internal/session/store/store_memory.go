package store

import (
	"context"
	"sync"

	id "storefront/pkg/domain"
	"storefront/pkg/platform/sentinel"
)

// InMemoryStore keeps session values in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[id.SessionID]map[string][]byte)}
}

func (s *InMemoryStore) Get(_ context.Context, sessionID id.SessionID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.sessions[sessionID][key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *InMemoryStore) Set(_ context.Context, sessionID id.SessionID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.sessions[sessionID]
	if !ok {
		values = make(map[string][]byte)
		s.sessions[sessionID] = values
	}
	values[key] = append([]byte(nil), value...)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID id.SessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[sessionID], key)
	if len(s.sessions[sessionID]) == 0 {
		delete(s.sessions, sessionID)
	}
	return nil
}
