package countdown

import (
	"sync"
)

// Broadcaster fans snapshots out to subscribers. Delivery never blocks the publisher:
// a subscriber whose buffer is full misses that tick and catches up on the next one.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Snapshot
	next   uint64
	latest *Snapshot
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan Snapshot)}
}

// Publish delivers s to every subscriber and remembers it as the latest snapshot.
func (b *Broadcaster) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &s
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The latest snapshot, if any, is queued
// immediately so new subscribers do not wait a full tick. The returned func
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	if b.latest != nil {
		ch <- *b.latest
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Len returns the number of current subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Latest returns the most recently published snapshot.
func (b *Broadcaster) Latest() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return Snapshot{}, false
	}
	return *b.latest, true
}
