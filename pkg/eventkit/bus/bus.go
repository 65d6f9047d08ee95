// Package bus composes a transport with an optional event cache into the
// publish/subscribe surface producers and consumers use.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventkit/pkg/eventkit/cache"
	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
	"github.com/randalmurphal/eventkit/pkg/eventkit/storage"
	"github.com/randalmurphal/eventkit/pkg/eventkit/transport"
)

// Config configures a Bus.
type Config struct {
	// Transport carries published events to subscribers. Required.
	Transport transport.Transport

	// Cache retains recent events for history queries. Optional.
	Cache *cache.Cache

	// Logger receives publish/subscribe diagnostics. Optional.
	Logger *slog.Logger

	// Metrics records publish and delivery counters. Optional.
	Metrics observability.MetricsRecorder

	// Spans traces publishes. Optional.
	Spans observability.SpanManager
}

// subscription is the bus-side bookkeeping for one handler.
type subscription struct {
	id        string
	eventType string
	handler   transport.Handler
	once      bool
	detach    transport.Unsubscribe
}

// Bus distributes events from producers to subscribers through its
// transport, writing through an optional cache on the way.
type Bus struct {
	transport transport.Transport
	cache     *cache.Cache
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager

	mu   sync.Mutex
	subs map[string]*subscription
}

// New creates a bus over the given transport.
func New(config Config) (*Bus, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}
	if config.Spans == nil {
		config.Spans = observability.NoopSpanManager{}
	}

	return &Bus{
		transport: config.Transport,
		cache:     config.Cache,
		logger:    observability.ComponentLogger(config.Logger, "bus"),
		metrics:   config.Metrics,
		spans:     config.Spans,
		subs:      make(map[string]*subscription),
	}, nil
}

// Publish writes the event through the cache (when configured), then
// forwards it to the transport. Unlike the cache's own write-through
// path, a cache failure here propagates to the caller.
func (b *Bus) Publish(ctx context.Context, evt event.Event) error {
	start := time.Now()
	ctx, span := b.spans.StartPublishSpan(ctx, evt.Type(), evt.ID())

	err := b.publish(ctx, evt)

	b.spans.EndSpanWithError(span, err)
	b.metrics.RecordPublish(ctx, evt.Type(), time.Since(start), err)
	if err != nil {
		observability.LogPublishError(b.logger, evt.Type(), evt.ID(), err)
		return err
	}
	observability.LogPublish(b.logger, evt.Type(), evt.ID(), b.subscriberCount(evt.Type()))
	return nil
}

func (b *Bus) publish(ctx context.Context, evt event.Event) error {
	if b.cache != nil {
		if err := b.cache.Add(ctx, evt); err != nil {
			return fmt.Errorf("cache event %s: %w", evt.ID(), err)
		}
	}
	if err := b.transport.Publish(ctx, evt.Type(), evt); err != nil {
		return fmt.Errorf("publish event %s: %w", evt.ID(), err)
	}
	return nil
}

// PublishBatch publishes events in input order, stopping at the first
// failure.
func (b *Bus) PublishBatch(ctx context.Context, events []event.Event) error {
	for _, evt := range events {
		if err := b.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	once bool
}

// Once makes the subscription detach itself after its first delivery.
func Once() SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.once = true
	}
}

// Subscribe registers a handler for an event type and returns a
// bus-unique subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler transport.Handler, opts ...SubscribeOption) (string, error) {
	cfg := &subscribeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	id := "sub-" + uuid.New().String()
	wrapped := func(ctx context.Context, evt event.Event) {
		b.metrics.RecordDelivery(ctx, eventType)
		handler(ctx, evt)
		if cfg.once {
			b.forget(id)
		}
	}

	// Bookkeeping goes in before the transport subscription exists: a
	// once-delivery can fire wrapped (and forget the id) the instant
	// SubscribeOnce returns, and must find the entry there to remove.
	b.mu.Lock()
	b.subs[id] = &subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
		once:      cfg.once,
	}
	b.mu.Unlock()

	var detach transport.Unsubscribe
	var err error
	if cfg.once {
		detach, err = b.transport.SubscribeOnce(eventType, wrapped)
	} else {
		detach, err = b.transport.Subscribe(eventType, wrapped)
	}
	if err != nil {
		b.forget(id)
		return "", fmt.Errorf("subscribe to %s: %w", eventType, err)
	}

	b.mu.Lock()
	sub, live := b.subs[id]
	if live {
		sub.detach = detach
	}
	b.mu.Unlock()

	// Fired or unsubscribed while arming: the entry is already gone, so
	// detach the transport side ourselves.
	if !live {
		detach()
	}

	return id, nil
}

// Unsubscribe detaches a subscription from the transport and drops its
// bookkeeping. Reports whether the id was known.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	sub, ok := b.subs[id]
	var detach transport.Unsubscribe
	if ok {
		delete(b.subs, id)
		detach = sub.detach
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	// A nil detach means the subscription is still arming; Subscribe
	// will see the entry gone and detach the transport side itself.
	if detach != nil {
		detach()
	}
	return true
}

// UnsubscribeByEvent detaches every subscription for an event type,
// returning how many were removed.
func (b *Bus) UnsubscribeByEvent(eventType string) int {
	b.mu.Lock()
	var ids []string
	for id, sub := range b.subs {
		if sub.eventType == eventType {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Unsubscribe(id)
	}
	return len(ids)
}

// UnsubscribeAll detaches every subscription, returning how many were
// removed.
func (b *Bus) UnsubscribeAll() int {
	b.mu.Lock()
	ids := make([]string, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Unsubscribe(id)
	}
	return len(ids)
}

// EventHistory returns recent events of a type from the cache, newest
// first. Without a cache it returns an empty result rather than failing.
// A zero eventType matches all types; a zero before means no upper bound.
func (b *Bus) EventHistory(ctx context.Context, eventType string, limit int, before time.Time) ([]event.Event, error) {
	if b.cache == nil {
		return nil, nil
	}
	return b.cache.GetEvents(ctx, storage.Criteria{
		EventType: eventType,
		Before:    before,
		Limit:     limit,
	})
}

// SubscriptionCount returns the number of live bus subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// SubscriptionsFor returns the subscription ids registered for a type.
func (b *Bus) SubscriptionsFor(eventType string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	for id, sub := range b.subs {
		if sub.eventType == eventType {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close detaches all subscriptions and disconnects the transport.
func (b *Bus) Close(ctx context.Context) error {
	b.UnsubscribeAll()
	return b.transport.Disconnect(ctx)
}

func (b *Bus) subscriberCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, sub := range b.subs {
		if sub.eventType == eventType {
			n++
		}
	}
	return n
}

// forget drops bookkeeping for a once-subscription that already
// detached itself at the transport level.
func (b *Bus) forget(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
