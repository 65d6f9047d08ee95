// Package event defines the domain event model exchanged through eventkit.
//
// Events are immutable once created - any modification creates a new event.
// Serialization omits the aggregate id and metadata when absent.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is the core interface for all events in the system.
type Event interface {
	// Identity
	ID() string   // Unique event identifier
	Type() string // Event type (e.g., "reminder.created", "user.registered")

	// Correlation
	AggregateID() string // Optional grouping/correlation key

	// Metadata
	OccurredOn() time.Time    // When the event occurred
	Version() int             // Schema version for evolution
	Metadata() map[string]any // Optional open key/value bag
}

// BaseEvent is the canonical Event implementation. Custom event types
// embed it and register a type-specific deserializer with a Registry.
type BaseEvent struct {
	EventID       string         `json:"id"`
	EventType     string         `json:"type"`
	Occurred      time.Time      `json:"occurred_on"`
	Aggregate     string         `json:"aggregate_id,omitempty"`
	SchemaVersion int            `json:"version"`
	Meta          map[string]any `json:"metadata,omitempty"`
}

// ID returns the unique event identifier.
func (e *BaseEvent) ID() string {
	return e.EventID
}

// Type returns the event type.
func (e *BaseEvent) Type() string {
	return e.EventType
}

// AggregateID returns the optional grouping/correlation key.
func (e *BaseEvent) AggregateID() string {
	return e.Aggregate
}

// OccurredOn returns when the event occurred.
func (e *BaseEvent) OccurredOn() time.Time {
	return e.Occurred
}

// Version returns the schema version.
func (e *BaseEvent) Version() int {
	return e.SchemaVersion
}

// Metadata returns the open key/value bag, or nil if none was set.
func (e *BaseEvent) Metadata() map[string]any {
	return e.Meta
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id          string
	aggregateID string
	occurredOn  time.Time
	version     int
	metadata    map[string]any
}

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithAggregateID sets the grouping/correlation key.
func WithAggregateID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.aggregateID = id
	}
}

// WithOccurredOn sets a specific occurrence time (default: time.Now()).
func WithOccurredOn(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.occurredOn = t
	}
}

// WithVersion sets the schema version (default: 1).
func WithVersion(v int) Option {
	return func(cfg *eventConfig) {
		cfg.version = v
	}
}

// WithMetadata sets the open metadata bag.
func WithMetadata(meta map[string]any) Option {
	return func(cfg *eventConfig) {
		cfg.metadata = meta
	}
}

// New creates a new event with the given type.
// The event ID is assigned exactly once here and never mutated.
func New(eventType string, opts ...Option) *BaseEvent {
	cfg := &eventConfig{
		id:         uuid.New().String(),
		occurredOn: time.Now(),
		version:    1,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &BaseEvent{
		EventID:       cfg.id,
		EventType:     eventType,
		Occurred:      cfg.occurredOn,
		Aggregate:     cfg.aggregateID,
		SchemaVersion: cfg.version,
		Meta:          cfg.metadata,
	}
}
