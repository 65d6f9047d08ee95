package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

// record is the serialized form a MemoryStore keeps per event.
// Events are stored serialized so that Load exercises the same
// deserialization path as a remote backend would.
type record struct {
	eventType   string
	aggregateID string
	occurredOn  time.Time
	data        []byte
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
// Suitable for testing and single-instance deployments.
type MemoryStore struct {
	registry *event.Registry

	mu      sync.RWMutex
	records map[string]*record

	// Secondary indexes by type and aggregate.
	byType      map[string]map[string]struct{}
	byAggregate map[string]map[string]struct{}

	connected bool
}

// NewMemoryStore creates a new in-memory event store.
// The registry reconstructs typed events on Load and Query.
func NewMemoryStore(registry *event.Registry) *MemoryStore {
	return &MemoryStore{
		registry:    registry,
		records:     make(map[string]*record),
		byType:      make(map[string]map[string]struct{}),
		byAggregate: make(map[string]map[string]struct{}),
		connected:   true,
	}
}

// Save persists an event.
func (s *MemoryStore) Save(_ context.Context, evt event.Event) error {
	if evt.ID() == "" {
		return fmt.Errorf("event ID is required")
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", evt.ID(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-saving under the same id replaces the record and its index entries.
	if old, exists := s.records[evt.ID()]; exists {
		s.dropIndexes(evt.ID(), old)
	}

	s.records[evt.ID()] = &record{
		eventType:   evt.Type(),
		aggregateID: evt.AggregateID(),
		occurredOn:  evt.OccurredOn(),
		data:        data,
	}
	s.addIndexes(evt.ID(), evt.Type(), evt.AggregateID())
	return nil
}

// Load retrieves an event by id.
func (s *MemoryStore) Load(_ context.Context, id string) (event.Event, error) {
	s.mu.RLock()
	rec, exists := s.records[id]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	return s.registry.Deserialize(rec.eventType, rec.data)
}

// Delete removes an event, reporting whether it existed.
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return false, nil
	}
	s.dropIndexes(id, rec)
	delete(s.records, id)
	return true, nil
}

// Query returns events matching the criteria, newest first.
func (s *MemoryStore) Query(_ context.Context, criteria Criteria) ([]event.Event, error) {
	s.mu.RLock()
	candidates := s.candidateIDs(criteria)
	recs := make(map[string]*record, len(candidates))
	for id := range candidates {
		recs[id] = s.records[id]
	}
	s.mu.RUnlock()

	events := make([]event.Event, 0, len(recs))
	for _, rec := range recs {
		evt, err := s.registry.Deserialize(rec.eventType, rec.data)
		if err != nil {
			return nil, err
		}
		if criteria.Matches(evt) {
			events = append(events, evt)
		}
	}

	SortByOccurredOnDesc(events)
	if criteria.Limit > 0 && len(events) > criteria.Limit {
		events = events[:criteria.Limit]
	}
	return events, nil
}

// Connect marks the store as connected.
func (s *MemoryStore) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Disconnect marks the store as disconnected.
func (s *MemoryStore) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// IsConnected reports whether the store is connected.
func (s *MemoryStore) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// HealthCheck verifies the store is usable.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	if !s.IsConnected() {
		return fmt.Errorf("memory store is disconnected")
	}
	return nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// candidateIDs narrows the id set via secondary indexes when the
// criteria allow it. Caller must hold at least a read lock.
func (s *MemoryStore) candidateIDs(criteria Criteria) map[string]struct{} {
	switch {
	case criteria.EventType != "":
		return s.byType[criteria.EventType]
	case criteria.AggregateID != "":
		return s.byAggregate[criteria.AggregateID]
	default:
		all := make(map[string]struct{}, len(s.records))
		for id := range s.records {
			all[id] = struct{}{}
		}
		return all
	}
}

func (s *MemoryStore) addIndexes(id, eventType, aggregateID string) {
	if s.byType[eventType] == nil {
		s.byType[eventType] = make(map[string]struct{})
	}
	s.byType[eventType][id] = struct{}{}

	if aggregateID != "" {
		if s.byAggregate[aggregateID] == nil {
			s.byAggregate[aggregateID] = make(map[string]struct{})
		}
		s.byAggregate[aggregateID][id] = struct{}{}
	}
}

func (s *MemoryStore) dropIndexes(id string, rec *record) {
	if set, ok := s.byType[rec.eventType]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byType, rec.eventType)
		}
	}
	if rec.aggregateID != "" {
		if set, ok := s.byAggregate[rec.aggregateID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.byAggregate, rec.aggregateID)
			}
		}
	}
}
