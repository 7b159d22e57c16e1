package pipeline

import (
	"sync"
	"sync/atomic"
)

// Broadcaster fans samples out to named subscribers over buffered channels.
// Publish never blocks: when a subscriber's channel is full the sample is
// dropped for that subscriber and counted. Slow viewers miss frames, they
// are not disconnected and they never stall the encoder.
type Broadcaster[T any] struct {
	mu   sync.RWMutex
	subs map[string]*subscriber[T]
}

type subscriber[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subs: make(map[string]*subscriber[T]),
	}
}

// Subscribe registers id and returns its receive channel. An existing
// subscription under the same id is closed and replaced.
func (b *Broadcaster[T]) Subscribe(id string, buffer int) <-chan T {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber[T]{ch: make(chan T, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old.ch)
	}
	b.subs[id] = sub
	return sub.ch
}

// Unsubscribe removes id and closes its channel. Unknown ids are ignored.
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers sample to every subscriber without blocking. Sends happen
// under the read lock so channels cannot be closed mid-send.
func (b *Broadcaster[T]) Publish(sample T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- sample:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many samples have been dropped for id.
func (b *Broadcaster[T]) Dropped(id string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subs[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}
