package event_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

func TestNew(t *testing.T) {
	evt := event.New("user.registered")

	if evt.ID() == "" {
		t.Error("expected generated event id")
	}
	if evt.Type() != "user.registered" {
		t.Errorf("expected type user.registered, got %s", evt.Type())
	}
	if evt.Version() != 1 {
		t.Errorf("expected default version 1, got %d", evt.Version())
	}
	if evt.OccurredOn().IsZero() {
		t.Error("expected occurredOn to be set")
	}
	if evt.AggregateID() != "" {
		t.Errorf("expected empty aggregate id, got %s", evt.AggregateID())
	}
	if evt.Metadata() != nil {
		t.Errorf("expected nil metadata, got %v", evt.Metadata())
	}
}

func TestNewOptions(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := event.New("order.created",
		event.WithID("evt-1"),
		event.WithAggregateID("order-42"),
		event.WithVersion(3),
		event.WithOccurredOn(ts),
		event.WithMetadata(map[string]any{"source": "api"}),
	)

	if evt.ID() != "evt-1" {
		t.Errorf("expected id evt-1, got %s", evt.ID())
	}
	if evt.AggregateID() != "order-42" {
		t.Errorf("expected aggregate order-42, got %s", evt.AggregateID())
	}
	if evt.Version() != 3 {
		t.Errorf("expected version 3, got %d", evt.Version())
	}
	if !evt.OccurredOn().Equal(ts) {
		t.Errorf("expected occurredOn %v, got %v", ts, evt.OccurredOn())
	}
	if evt.Metadata()["source"] != "api" {
		t.Errorf("expected metadata source=api, got %v", evt.Metadata())
	}
}

func TestUniqueIDs(t *testing.T) {
	a := event.New("test")
	b := event.New("test")
	if a.ID() == b.ID() {
		t.Errorf("expected distinct ids, both were %s", a.ID())
	}
}

func TestMarshalOmitsAbsentFields(t *testing.T) {
	evt := event.New("test", event.WithID("evt-1"))

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := string(data)
	if strings.Contains(s, "aggregate_id") {
		t.Errorf("expected aggregate_id omitted, got %s", s)
	}
	if strings.Contains(s, "metadata") {
		t.Errorf("expected metadata omitted, got %s", s)
	}
	if !strings.Contains(s, `"id":"evt-1"`) {
		t.Errorf("expected id field, got %s", s)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	evt := event.New("test",
		event.WithAggregateID("agg-1"),
		event.WithMetadata(map[string]any{"k": "v"}),
	)

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded event.BaseEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decoded.ID() != evt.ID() {
		t.Errorf("expected id %s, got %s", evt.ID(), decoded.ID())
	}
	if decoded.AggregateID() != "agg-1" {
		t.Errorf("expected aggregate agg-1, got %s", decoded.AggregateID())
	}
	if decoded.Metadata()["k"] != "v" {
		t.Errorf("expected metadata k=v, got %v", decoded.Metadata())
	}
}
