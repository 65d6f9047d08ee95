package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
)

// LocalConfig configures the in-process transport.
type LocalConfig struct {
	// BufferSize is the channel buffer size per subscription.
	// Default: 256
	BufferSize int

	// NonBlocking makes Publish non-blocking (drops events if buffer full).
	// Default: false (blocking)
	NonBlocking bool

	// OnDrop is called when an event is dropped (non-blocking mode).
	OnDrop func(eventType, subscriptionID string)

	// Logger receives recovered handler panics. Optional.
	Logger *slog.Logger
}

// DefaultLocalConfig provides reasonable defaults.
var DefaultLocalConfig = LocalConfig{
	BufferSize: 256,
}

// Compile-time interface check.
var _ Transport = (*LocalTransport)(nil)

// LocalTransport is an in-memory Transport implementation.
// Each subscription runs its own dispatch goroutine, so one failing or
// hung handler cannot break delivery to the rest.
type LocalTransport struct {
	config LocalConfig
	logger *slog.Logger

	mu     sync.RWMutex
	byType map[string]map[string]*localSubscription

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewLocalTransport creates a new in-process transport.
func NewLocalTransport(config LocalConfig) *LocalTransport {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultLocalConfig.BufferSize
	}
	return &LocalTransport{
		config:  config,
		logger:  observability.ComponentLogger(config.Logger, "transport"),
		byType:  make(map[string]map[string]*localSubscription),
		closeCh: make(chan struct{}),
	}
}

// localSubscription is an internal subscription implementation.
type localSubscription struct {
	id        string
	eventType string
	handler   Handler
	events    chan event.Event
	once      bool
	fired     atomic.Bool
	done      chan struct{}
	detach    sync.Once
	transport *LocalTransport
}

// Publish sends an event to every subscriber of its type.
func (t *LocalTransport) Publish(ctx context.Context, eventType string, evt event.Event) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}

	t.mu.RLock()
	subs := make([]*localSubscription, 0, len(t.byType[eventType]))
	for _, sub := range t.byType[eventType] {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	for _, sub := range subs {
		if t.config.NonBlocking {
			select {
			case sub.events <- evt:
			default:
				// Buffer full - drop event
				if t.config.OnDrop != nil {
					t.config.OnDrop(eventType, sub.id)
				}
			}
		} else {
			select {
			case sub.events <- evt:
			case <-sub.done:
				// Subscriber detached while we were delivering.
			case <-ctx.Done():
				return ctx.Err()
			case <-t.closeCh:
				return fmt.Errorf("transport closed during publish")
			}
		}
	}
	return nil
}

// Subscribe registers a handler for an event type.
func (t *LocalTransport) Subscribe(eventType string, handler Handler) (Unsubscribe, error) {
	return t.subscribe(eventType, handler, false)
}

// SubscribeOnce registers a handler that detaches after its first delivery.
func (t *LocalTransport) SubscribeOnce(eventType string, handler Handler) (Unsubscribe, error) {
	return t.subscribe(eventType, handler, true)
}

func (t *LocalTransport) subscribe(eventType string, handler Handler, once bool) (Unsubscribe, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("transport is closed")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	sub := &localSubscription{
		id:        fmt.Sprintf("local-%d", t.nextID.Add(1)),
		eventType: eventType,
		handler:   handler,
		events:    make(chan event.Event, t.config.BufferSize),
		once:      once,
		done:      make(chan struct{}),
		transport: t,
	}

	t.mu.Lock()
	if t.byType[eventType] == nil {
		t.byType[eventType] = make(map[string]*localSubscription)
	}
	t.byType[eventType][sub.id] = sub
	t.mu.Unlock()

	go sub.process()

	return sub.unsubscribe, nil
}

// Connect is a no-op for the in-process transport.
func (t *LocalTransport) Connect(_ context.Context) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}
	return nil
}

// Disconnect shuts down the transport and all subscriptions.
func (t *LocalTransport) Disconnect(_ context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	close(t.closeCh)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, subs := range t.byType {
		for _, sub := range subs {
			sub.markDetached()
		}
	}
	t.byType = make(map[string]map[string]*localSubscription)
	return nil
}

// IsConnected reports whether the transport is open.
func (t *LocalTransport) IsConnected() bool {
	return !t.closed.Load()
}

// SubscriberCount returns the number of live subscriptions for a type.
func (t *LocalTransport) SubscriberCount(eventType string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byType[eventType])
}

// process dispatches events for a subscription. Handler panics are
// recovered here so they never reach the publisher or sibling handlers.
func (s *localSubscription) process() {
	for {
		select {
		case evt := <-s.events:
			if s.once {
				if !s.fired.CompareAndSwap(false, true) {
					// A message raced in before the once-handler
					// finished detaching. Ignore it.
					continue
				}
			}
			s.dispatch(evt)
			if s.once {
				s.unsubscribe()
				return
			}

		case <-s.done:
			return
		}
	}
}

func (s *localSubscription) dispatch(evt event.Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogHandlerPanic(s.transport.logger, s.eventType, s.id, r)
		}
	}()
	s.handler(context.Background(), evt)
}

// unsubscribe removes the subscription. Idempotent.
func (s *localSubscription) unsubscribe() {
	s.transport.mu.Lock()
	if subs, ok := s.transport.byType[s.eventType]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.transport.byType, s.eventType)
		}
	}
	s.transport.mu.Unlock()

	s.markDetached()
}

func (s *localSubscription) markDetached() {
	s.detach.Do(func() {
		close(s.done)
	})
}
