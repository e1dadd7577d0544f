// Package feed keeps each session's recent checkout events so the browser
// can poll for what changed.
package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"storefront/internal/checkout"
	id "storefront/pkg/domain"
)

const DefaultCapacity = 50

// Entry is one event with its feed sequence number. Sequence numbers grow
// monotonically across all sessions.
type Entry struct {
	Seq   uint64         `json:"seq"`
	Event checkout.Event `json:"event"`
}

// Feed is a checkout.Observer holding a ring buffer per session.
type Feed struct {
	capacity int
	seq      atomic.Uint64

	mu      sync.RWMutex
	buffers map[id.SessionID]*RingBuffer
}

type Option func(*Feed)

// WithCapacity sets how many events are kept per session.
func WithCapacity(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.capacity = n
		}
	}
}

func New(opts ...Option) *Feed {
	f := &Feed{capacity: DefaultCapacity, buffers: make(map[id.SessionID]*RingBuffer)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) Notify(_ context.Context, e checkout.Event) {
	f.buffer(e.SessionID).Enqueue(Entry{Seq: f.seq.Add(1), Event: e})
}

// Since returns the session's entries newer than seq, oldest first.
func (f *Feed) Since(sessionID id.SessionID, seq uint64) []Entry {
	f.mu.RLock()
	b, ok := f.buffers[sessionID]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.After(seq)
}

// Forget drops a session's buffer.
func (f *Feed) Forget(sessionID id.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buffers, sessionID)
}

func (f *Feed) buffer(sessionID id.SessionID) *RingBuffer {
	f.mu.RLock()
	b, ok := f.buffers[sessionID]
	f.mu.RUnlock()
	if ok {
		return b
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buffers[sessionID]; ok {
		return b
	}
	b = NewRingBuffer(f.capacity)
	f.buffers[sessionID] = b
	return b
}
