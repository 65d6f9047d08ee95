// Package transport defines the publish/subscribe primitive the bus and
// the suspension manager are built on, with an in-process implementation
// and a Redis-backed one.
package transport

import (
	"context"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

// Handler processes a delivered event. Handlers for one event type fan
// out independently; a slow or panicking handler never blocks siblings
// or the publisher.
type Handler func(ctx context.Context, evt event.Event)

// Unsubscribe detaches a subscription. Safe to call more than once.
type Unsubscribe func()

// Transport is the publish/subscribe primitive.
type Transport interface {
	// Publish sends an event to all subscribers of its type.
	Publish(ctx context.Context, eventType string, evt event.Event) error

	// Subscribe registers a handler for an event type and returns a
	// closure that detaches it.
	Subscribe(eventType string, handler Handler) (Unsubscribe, error)

	// SubscribeOnce registers a handler that detaches itself after the
	// first delivery. Deliveries racing in after the first are ignored.
	SubscribeOnce(eventType string, handler Handler) (Unsubscribe, error)

	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Disconnect releases the transport connection.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the transport is usable.
	IsConnected() bool
}
