package tracker

import (
	"context"
	"sync"
)

// subscriberBufferSize is the channel buffer for each snapshot subscriber.
// Snapshots are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// Compile-time interface satisfaction check.
var _ Publisher = (*Broker)(nil)

// Broker fans status snapshots out to streaming subscribers. It is safe for
// concurrent use.
//
// The most recent snapshot is kept so a new subscriber starts with the
// current counts instead of waiting for the next poll. After Close, new
// subscribers receive a channel holding only that last snapshot, then closed.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
	last   *Snapshot
	closed bool
}

// NewBroker creates a new snapshot broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[int]chan Snapshot),
	}
}

// Subscribe returns a channel that receives snapshots and an unsubscribe
// function.
func (b *Broker) Subscribe() (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Snapshot, subscriberBufferSize)
	if b.last != nil {
		ch <- *b.last
	}
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish implements Publisher. Snapshots are dropped for subscribers whose
// buffers are full.
func (b *Broker) Publish(_ context.Context, snap Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.last = &snap

	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
			// Drop for slow subscribers to avoid blocking the poller.
		}
	}
	return nil
}

// Close ends every stream. Later Publish calls are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
