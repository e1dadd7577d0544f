package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	id "storefront/pkg/domain"
	audit "storefront/pkg/platform/audit"
)

// InMemoryStore keeps events per session and doubles as an outbox so the
// relay can run without Postgres.
type InMemoryStore struct {
	mu      sync.RWMutex
	events  map[id.SessionID][]audit.Event
	pending []audit.OutboxEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.SessionID][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	event = audit.Normalize(event, time.Now())
	raw, err := audit.MarshalPayload(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	s.pending = append(s.pending, audit.OutboxEntry{
		ID:        event.ID,
		Key:       event.SessionID.String(),
		Type:      event.Type,
		Payload:   raw,
		CreatedAt: event.Timestamp,
	})
	return nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID id.SessionID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[sessionID]...), nil
}

func (s *InMemoryStore) FetchPending(_ context.Context, limit int) ([]audit.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, len(s.pending))
	return append([]audit.OutboxEntry{}, s.pending[:n]...), nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = slices.DeleteFunc(s.pending, func(e audit.OutboxEntry) bool {
		return slices.Contains(ids, e.ID)
	})
	return nil
}

// Clear drops all events. Used between tests.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.SessionID][]audit.Event)
	s.pending = nil
}
