package feed

import "sync"

// RingBuffer is a bounded, thread-safe buffer of feed entries.
// When full, the oldest entries are dropped to make room for new ones.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []Entry
	head     int // next write position
	tail     int // oldest entry
	count    int
	capacity int

	dropped int64
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an entry, dropping the oldest if necessary.
func (b *RingBuffer) Enqueue(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}

	b.entries[b.head] = e
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// After returns, oldest first, the entries with a sequence number greater
// than seq. Entries stay in the buffer.
func (b *RingBuffer) After(seq uint64) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for i := 0; i < b.count; i++ {
		e := b.entries[(b.tail+i)%b.capacity]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the current number of entries in the buffer.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of dropped entries.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
