package event

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Deserializer reconstructs a typed event from its serialized form.
type Deserializer func(data []byte) (Event, error)

// Registry maps event types to their deserializers.
//
// Registries are explicit instances passed by handle into the components
// that reconstruct events from storage. Tests construct isolated registries
// instead of resetting shared state.
type Registry struct {
	mu            sync.RWMutex
	deserializers map[string]Deserializer
}

// NewRegistry creates an empty deserializer registry.
func NewRegistry() *Registry {
	return &Registry{
		deserializers: make(map[string]Deserializer),
	}
}

// Register adds a deserializer for an event type.
// If one already exists for the type, it's replaced.
func (r *Registry) Register(eventType string, fn Deserializer) error {
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}
	if fn == nil {
		return fmt.Errorf("deserializer is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.deserializers[eventType] = fn
	return nil
}

// Unregister removes the deserializer for an event type.
func (r *Registry) Unregister(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deserializers, eventType)
}

// Has returns true if a deserializer exists for the event type.
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.deserializers[eventType]
	return ok
}

// Types returns all registered event types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.deserializers))
	for t := range r.deserializers {
		types = append(types, t)
	}
	return types
}

// Deserialize reconstructs an event of the given type.
// Returns *UnknownTypeError if no deserializer is registered for the type.
func (r *Registry) Deserialize(eventType string, data []byte) (Event, error) {
	r.mu.RLock()
	fn, ok := r.deserializers[eventType]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownTypeError{EventType: eventType}
	}

	evt, err := fn(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s event: %w", eventType, err)
	}
	return evt, nil
}

// JSONDeserializer reconstructs a BaseEvent from its JSON form.
// Use it for event types that carry no payload beyond the base fields.
func JSONDeserializer(data []byte) (Event, error) {
	var evt BaseEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
