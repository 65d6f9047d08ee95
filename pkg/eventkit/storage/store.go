// Package storage defines the event persistence contract and its backends.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

// ErrNotFound is returned when an event cannot be found.
// Loading an unknown or expired id is not a failure - callers that
// treat absence as an error must check for this sentinel explicitly.
var ErrNotFound = fmt.Errorf("event not found")

// Store persists and retrieves events.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists an event. Saving an event whose type has no registered
	// deserializer succeeds; deserialization failures surface only on Load.
	Save(ctx context.Context, evt event.Event) error

	// Load retrieves an event by id. Returns ErrNotFound if absent.
	Load(ctx context.Context, id string) (event.Event, error)

	// Delete removes an event, reporting whether something was actually removed.
	Delete(ctx context.Context, id string) (bool, error)

	// Query returns events matching the criteria.
	Query(ctx context.Context, criteria Criteria) ([]event.Event, error)

	// Connect establishes the backend connection.
	Connect(ctx context.Context) error

	// Disconnect releases the backend connection.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the backend is reachable.
	IsConnected() bool

	// HealthCheck verifies the backend is operational.
	HealthCheck(ctx context.Context) error
}

// Criteria filters event queries.
// The time window is half-open: [After, Before).
type Criteria struct {
	// EventType filters by event type. Empty matches all types.
	EventType string

	// AggregateID filters by aggregate. Empty matches all aggregates.
	AggregateID string

	// After is the inclusive lower bound on occurrence time.
	After time.Time

	// Before is the exclusive upper bound on occurrence time.
	Before time.Time

	// Limit is the maximum number of results. Zero means unlimited.
	Limit int
}

// Matches reports whether an event satisfies the criteria.
// The Limit field is ignored here - truncation is the caller's concern.
func (c Criteria) Matches(evt event.Event) bool {
	if c.EventType != "" && evt.Type() != c.EventType {
		return false
	}
	if c.AggregateID != "" && evt.AggregateID() != c.AggregateID {
		return false
	}
	if !c.After.IsZero() && evt.OccurredOn().Before(c.After) {
		return false
	}
	if !c.Before.IsZero() && !evt.OccurredOn().Before(c.Before) {
		return false
	}
	return true
}

// SortByOccurredOnDesc orders events newest first, in place.
func SortByOccurredOnDesc(events []event.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredOn().After(events[j].OccurredOn())
	})
}
