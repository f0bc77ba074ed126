package pubsub

import (
	"context"
	"sync"
	"time"
)

// defaultBufferSize absorbs a burst of session changes (a boundary close
// publishes several events back to back) without blocking the publisher.
const defaultBufferSize = 64

// Broker fans published events out to every subscriber. The engine is the
// publisher; the watch loop and the log tail are subscribers. Publishing
// never blocks: a subscriber that stops draining loses events rather than
// stalling the engine's write path.
type Broker[T any] struct {
	mu         sync.RWMutex
	listeners  map[chan Event[T]]struct{}
	done       chan struct{}
	bufferSize int
}

// NewBroker creates a broker with the default per-subscriber buffer.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker with a custom per-subscriber buffer.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		listeners:  make(map[chan Event[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe registers a new subscriber and returns its channel. The
// subscription is removed and the channel closed when ctx is cancelled.
// Subscribing to a closed broker yields an already-closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := make(chan Event[T], b.bufferSize)
	b.listeners[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.closed() {
			return
		}
		delete(b.listeners, sub)
		close(sub)
	}()

	return sub
}

// Publish delivers an event to every subscriber whose buffer has room.
// Safe to call on a closed broker; the event is simply dropped.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for sub := range b.listeners {
		select {
		case sub <- event:
		default:
			// Full buffer: drop rather than block the mutation path.
		}
	}
}

// Close shuts the broker down and closes every subscriber channel.
// Idempotent.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		return
	}
	close(b.done)
	for sub := range b.listeners {
		close(sub)
	}
	b.listeners = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// closed reports broker shutdown. Callers hold b.mu.
func (b *Broker[T]) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
