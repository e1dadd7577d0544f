package order

import (
	"context"
	"slices"
	"sync"

	id "storefront/pkg/domain"
	"storefront/pkg/platform/sentinel"
)

// InMemoryStore keeps orders in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	orders map[id.OrderID]*Order
	// insertion order per session
	bySession map[id.SessionID][]id.OrderID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders:    make(map[id.OrderID]*Order),
		bySession: make(map[id.SessionID][]id.OrderID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return sentinel.ErrConflict
	}
	s.orders[o.ID] = clone(o)
	s.bySession[o.SessionID] = append(s.bySession[o.SessionID], o.ID)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, orderID id.OrderID) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(o), nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID id.SessionID) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySession[sessionID]
	out := make([]*Order, 0, len(ids))
	for _, oid := range ids {
		out = append(out, clone(s.orders[oid]))
	}
	return out, nil
}

func clone(o *Order) *Order {
	c := *o
	c.Lines = slices.Clone(o.Lines)
	return &c
}
