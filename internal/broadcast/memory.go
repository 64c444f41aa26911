package broadcast

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process broadcast channel. It only reaches
// subscribers inside the same process, so it is suitable for a single
// instance and for tests; multi-instance deployments need RedisBroker.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]chan Event)}
}

// Publish delivers the event to every live subscriber. A subscriber
// that cannot keep up loses the event; delivery is at-most-once.
func (b *MemoryBroker) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until stop is called.
func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, stop, nil
}
