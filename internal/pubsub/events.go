// Package pubsub fans change notifications out to in-process subscribers:
// session mutations from the engine and entries from the debug log.
package pubsub

import (
	"context"
	"time"
)

// EventType names what happened to the payload's subject.
type EventType string

const (
	// CreatedEvent announces a new record; the log broker uses it for
	// every appended entry.
	CreatedEvent EventType = "created"
	// UpdatedEvent announces a mutation of an open session.
	UpdatedEvent EventType = "updated"
	// DeletedEvent announces a session removed outright; subscribers must
	// drop any projection they hold for its key.
	DeletedEvent EventType = "deleted"
	// ClosedEvent announces a session reaching a terminal state, whether
	// by completion, boundary cutoff, or sleep-through expiry.
	ClosedEvent EventType = "closed"
)

// Event is one published change with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
