package pubsub

import "context"

// Listener wraps a broker subscription with blocking receive semantics.
// It exists for consumers that drain events from a plain goroutine rather
// than an update loop.
type Listener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewListener subscribes to the broker. The subscription is cleaned up
// when the context is cancelled.
func NewListener[T any](ctx context.Context, broker *Broker[T]) *Listener[T] {
	return &Listener[T]{
		ctx: ctx,
		ch:  broker.Subscribe(ctx),
	}
}

// Next blocks until an event arrives, the context is cancelled, or the
// channel closes. The second return value reports whether an event was
// received.
func (l *Listener[T]) Next() (Event[T], bool) {
	select {
	case <-l.ctx.Done():
		var zero Event[T]
		return zero, false
	case event, ok := <-l.ch:
		if !ok {
			var zero Event[T]
			return zero, false
		}
		return event, true
	}
}

// Chan exposes the underlying subscription channel for select loops.
func (l *Listener[T]) Chan() <-chan Event[T] {
	return l.ch
}
