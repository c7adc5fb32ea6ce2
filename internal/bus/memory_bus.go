package bus

import (
	"context"
	"sync"

	"postal-service/internal/util"

	"go.uber.org/zap"
)

const subscriberBuffer = 16

// MemoryBus is an in-process Bus for development and tests. Events to a
// subscriber whose buffer is full are dropped, matching the at-most-once
// contract of the real bus.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[int]chan Event),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	for _, ch := range b.subs[event.Topic] {
		select {
		case ch <- event:
		default:
			util.Warn("Memory bus subscriber buffer full, event dropped",
				zap.String("topic", event.Topic),
				zap.String("type", event.Type),
			)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	id := b.nextID
	b.nextID++

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[topic]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
		}
	}

	return ch, cancel, nil
}

// Close drops all subscribers.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}
