package bus_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/bus"
	"github.com/randalmurphal/eventkit/pkg/eventkit/cache"
	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/storage"
	"github.com/randalmurphal/eventkit/pkg/eventkit/transport"
)

func newBus(t *testing.T, c *cache.Cache) *bus.Bus {
	t.Helper()
	tr := transport.NewLocalTransport(transport.LocalConfig{BufferSize: 10})
	b, err := bus.New(bus.Config{Transport: tr, Cache: c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

func TestBusRequiresTransport(t *testing.T) {
	if _, err := bus.New(bus.Config{}); err == nil {
		t.Error("expected error for missing transport")
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	b := newBus(t, nil)

	var received atomic.Int32
	_, err := b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {
		received.Add(1)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.Publish(context.Background(), event.New("test.event")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}
}

func TestBusFanOut(t *testing.T) {
	b := newBus(t, nil)

	var received atomic.Int32
	// First handler panics; all N must still be invoked.
	b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {
		received.Add(1)
		panic("boom")
	})
	for i := 0; i < 3; i++ {
		b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {
			received.Add(1)
		})
	}

	if err := b.Publish(context.Background(), event.New("test.event")); err != nil {
		t.Fatalf("publish must not see handler failures: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if received.Load() != 4 {
		t.Errorf("expected 4 deliveries, got %d", received.Load())
	}
}

func TestBusPublishWritesCache(t *testing.T) {
	c, err := cache.New(cache.Config{MaxSize: 10, TTL: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := newBus(t, c)

	evt := event.New("test.event", event.WithID("evt-1"))
	if err := b.Publish(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := c.Get(context.Background(), "evt-1"); !ok {
		t.Error("expected published event in cache")
	}
}

// downStore fails every save, for exercising the cache error path.
type downStore struct {
	storage.Store
}

func (downStore) Save(context.Context, event.Event) error {
	return fmt.Errorf("store is down")
}

func TestBusPublishPropagatesCacheError(t *testing.T) {
	// Unlike the cache's own write-through path, a cache failure
	// during bus publish reaches the caller.
	c, err := cache.New(cache.Config{
		Mode:  cache.ModeStorageOnly,
		Store: downStore{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := newBus(t, c)

	if err := b.Publish(context.Background(), event.New("test.event")); err == nil {
		t.Error("expected cache failure to propagate")
	}
}

func TestBusPublishBatchPreservesOrder(t *testing.T) {
	b := newBus(t, nil)

	ids := make(chan string, 3)
	b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {
		ids <- evt.ID()
	})

	events := []event.Event{
		event.New("test.event", event.WithID("e1")),
		event.New("test.event", event.WithID("e2")),
		event.New("test.event", event.WithID("e3")),
	}
	if err := b.PublishBatch(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A single subscription processes deliveries sequentially, so the
	// input order must be preserved.
	for _, want := range []string{"e1", "e2", "e3"} {
		select {
		case got := <-ids:
			if got != want {
				t.Errorf("expected delivery %s, got %s", want, got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}
}

func TestBusSubscribeOnce(t *testing.T) {
	b := newBus(t, nil)

	var received atomic.Int32
	b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {
		received.Add(1)
	}, bus.Once())

	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), event.New("test.event"))
	}

	time.Sleep(100 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("expected exactly 1 delivery, got %d", received.Load())
	}
	if n := b.SubscriptionCount(); n != 0 {
		t.Errorf("expected bookkeeping dropped after once-delivery, got %d", n)
	}
}

// eagerOnceTransport delivers to a once-handler synchronously inside
// SubscribeOnce, before the caller has the detach closure.
type eagerOnceTransport struct {
	transport.Transport
	detached atomic.Bool
}

func (t *eagerOnceTransport) SubscribeOnce(eventType string, h transport.Handler) (transport.Unsubscribe, error) {
	h(context.Background(), event.New(eventType))
	return func() { t.detached.Store(true) }, nil
}

func (t *eagerOnceTransport) Disconnect(ctx context.Context) error { return nil }

func TestBusOnceDeliveryDuringSubscribe(t *testing.T) {
	tr := &eagerOnceTransport{}
	b, err := bus.New(bus.Config{Transport: tr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close(context.Background())

	// The once-delivery fires before Subscribe returns; the bookkeeping
	// it removes must already exist, and the never-stored detach closure
	// must still run.
	var received atomic.Int32
	id, err := b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {
		received.Add(1)
	}, bus.Once())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}
	if n := b.SubscriptionCount(); n != 0 {
		t.Errorf("expected no bookkeeping after once-delivery, got %d", n)
	}
	if !tr.detached.Load() {
		t.Error("expected transport subscription detached")
	}
	if b.Unsubscribe(id) {
		t.Error("expected id to be already gone")
	}
}

func TestBusSubscriptionIDsDoNotCollide(t *testing.T) {
	b := newBus(t, nil)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate subscription id %s", id)
		}
		seen[id] = true
	}

	if n := b.SubscriptionCount(); n != 100 {
		t.Errorf("expected 100 subscriptions, got %d", n)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := newBus(t, nil)

	var received atomic.Int32
	id, err := b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {
		received.Add(1)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !b.Unsubscribe(id) {
		t.Error("expected unsubscribe to report success")
	}
	if b.Unsubscribe(id) {
		t.Error("expected second unsubscribe to report failure")
	}

	b.Publish(context.Background(), event.New("test.event"))
	time.Sleep(50 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("expected no residual delivery, got %d", received.Load())
	}
}

func TestBusUnsubscribeByEvent(t *testing.T) {
	b := newBus(t, nil)

	for i := 0; i < 3; i++ {
		b.Subscribe("a", func(ctx context.Context, evt event.Event) {})
	}
	b.Subscribe("b", func(ctx context.Context, evt event.Event) {})

	if n := b.UnsubscribeByEvent("a"); n != 3 {
		t.Errorf("expected 3 removed, got %d", n)
	}
	if n := b.SubscriptionCount(); n != 1 {
		t.Errorf("expected 1 remaining subscription, got %d", n)
	}
	if n := b.UnsubscribeAll(); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if n := b.SubscriptionCount(); n != 0 {
		t.Errorf("expected no remaining subscriptions, got %d", n)
	}
}

func TestBusUnsubscribeDetachesTransport(t *testing.T) {
	tr := transport.NewLocalTransport(transport.LocalConfig{BufferSize: 10})
	b, err := bus.New(bus.Config{Transport: tr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close(context.Background())

	id, _ := b.Subscribe("test.event", func(ctx context.Context, evt event.Event) {})
	b.Unsubscribe(id)

	if n := tr.SubscriberCount("test.event"); n != 0 {
		t.Errorf("expected transport subscription detached, got %d", n)
	}
}

func TestBusEventHistory(t *testing.T) {
	c, err := cache.New(cache.Config{MaxSize: 10, TTL: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := newBus(t, c)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		evt := event.New("test.event",
			event.WithID(fmt.Sprintf("evt-%d", i)),
			event.WithOccurredOn(base.Add(time.Duration(i)*time.Minute)),
		)
		if err := b.Publish(context.Background(), evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	history, err := b.EventHistory(context.Background(), "test.event", 2, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].ID() != "evt-2" {
		t.Errorf("expected newest first, got %s", history[0].ID())
	}
}

func TestBusEventHistoryWithoutCache(t *testing.T) {
	b := newBus(t, nil)

	history, err := b.EventHistory(context.Background(), "test.event", 10, time.Time{})
	if err != nil {
		t.Fatalf("expected no error without cache, got %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history without cache, got %d", len(history))
	}
}
