package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
)

// Encoding selects how a payload is serialized onto the wire.
type Encoding string

// Payload encoding constants.
const (
	// EncodingJSON marshals non-string payloads to JSON and passes
	// strings through unchanged. This is the default.
	EncodingJSON Encoding = "json"

	// EncodingString formats the payload as its string representation.
	EncodingString Encoding = "string"

	// EncodingBuffer sends raw bytes. The payload must be []byte.
	EncodingBuffer Encoding = "buffer"
)

// EncodePayload serializes a payload using the given encoding.
func EncodePayload(payload any, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingJSON, "":
		if s, ok := payload.(string); ok {
			return []byte(s), nil
		}
		return json.Marshal(payload)
	case EncodingString:
		if s, ok := payload.(string); ok {
			return []byte(s), nil
		}
		return []byte(fmt.Sprintf("%v", payload)), nil
	case EncodingBuffer:
		b, ok := payload.([]byte)
		if !ok {
			return nil, fmt.Errorf("buffer encoding requires []byte payload, got %T", payload)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// RedisTransportConfig configures a RedisTransport.
type RedisTransportConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password is optional.
	Password string

	// DB selects the Redis logical database.
	DB int

	// ChannelPrefix namespaces pub/sub channels. Default: "events:".
	ChannelPrefix string

	// Logger receives decode failures and recovered panics. Optional.
	Logger *slog.Logger
}

const defaultChannelPrefix = "events:"

// Compile-time interface check.
var _ Transport = (*RedisTransport)(nil)

// RedisTransport is a broker-backed Transport over Redis pub/sub.
// Channels are named {prefix}{eventType}; payloads default to the
// event's JSON form and are reconstructed through the registry on
// the receiving side.
type RedisTransport struct {
	client   *redis.Client
	registry *event.Registry
	cfg      RedisTransportConfig
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[string]*redisSubscription
	nextID atomic.Int64
	closed atomic.Bool
}

// NewRedisTransport creates a Redis-backed transport.
// The registry reconstructs typed events from incoming payloads;
// unregistered types decode as base events.
func NewRedisTransport(cfg RedisTransportConfig, registry *event.Registry) *RedisTransport {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = defaultChannelPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisTransport{
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   observability.ComponentLogger(cfg.Logger, "redis_transport"),
		subs:     make(map[string]*redisSubscription),
	}
}

type redisSubscription struct {
	id      string
	handler Handler
	once    bool
	fired   atomic.Bool
	pubsub  *redis.PubSub
	detach  sync.Once
}

func (t *RedisTransport) channel(eventType string) string {
	return t.cfg.ChannelPrefix + eventType
}

// Publish sends an event as JSON on the type's channel.
func (t *RedisTransport) Publish(ctx context.Context, eventType string, evt event.Event) error {
	return t.PublishEncoded(ctx, eventType, evt, EncodingJSON)
}

// PublishEncoded sends an event with an explicit payload encoding.
func (t *RedisTransport) PublishEncoded(ctx context.Context, eventType string, evt event.Event, enc Encoding) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}

	payload, err := EncodePayload(evt, enc)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID(), err)
	}
	if err := t.client.Publish(ctx, t.channel(eventType), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", t.channel(eventType), err)
	}
	return nil
}

// PublishRaw sends an arbitrary payload on a raw channel name with the
// selected encoding, bypassing the event model entirely.
func (t *RedisTransport) PublishRaw(ctx context.Context, channel string, payload any, enc Encoding) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}

	data, err := EncodePayload(payload, enc)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.cfg.ChannelPrefix+channel, data).Err()
}

// Subscribe registers a handler for an event type.
func (t *RedisTransport) Subscribe(eventType string, handler Handler) (Unsubscribe, error) {
	return t.subscribe(eventType, handler, false)
}

// SubscribeOnce registers a handler that detaches after its first
// delivery. Messages raced in before the detach completes are ignored.
func (t *RedisTransport) SubscribeOnce(eventType string, handler Handler) (Unsubscribe, error) {
	return t.subscribe(eventType, handler, true)
}

func (t *RedisTransport) subscribe(eventType string, handler Handler, once bool) (Unsubscribe, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("transport is closed")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	pubsub := t.client.Subscribe(context.Background(), t.channel(eventType))
	sub := &redisSubscription{
		id:      fmt.Sprintf("redis-%d", t.nextID.Add(1)),
		handler: handler,
		once:    once,
		pubsub:  pubsub,
	}

	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()

	go t.receive(sub, eventType)

	return func() { t.unsubscribe(sub) }, nil
}

// receive decodes and dispatches messages for one subscription.
func (t *RedisTransport) receive(sub *redisSubscription, eventType string) {
	for msg := range sub.pubsub.Channel() {
		if sub.once && !sub.fired.CompareAndSwap(false, true) {
			continue
		}

		evt, err := t.decode(eventType, []byte(msg.Payload))
		if err != nil {
			observability.LogBestEffort(t.logger, "decode message", err)
			continue
		}

		t.dispatch(sub, eventType, evt)

		if sub.once {
			t.unsubscribe(sub)
			return
		}
	}
}

func (t *RedisTransport) dispatch(sub *redisSubscription, eventType string, evt event.Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogHandlerPanic(t.logger, eventType, sub.id, r)
		}
	}()
	sub.handler(context.Background(), evt)
}

// decode reconstructs an event from a wire payload. Types with a
// registered deserializer get their typed form; the rest decode as
// base events.
func (t *RedisTransport) decode(eventType string, payload []byte) (event.Event, error) {
	if t.registry != nil && t.registry.Has(eventType) {
		return t.registry.Deserialize(eventType, payload)
	}
	return event.JSONDeserializer(payload)
}

func (t *RedisTransport) unsubscribe(sub *redisSubscription) {
	t.mu.Lock()
	delete(t.subs, sub.id)
	t.mu.Unlock()

	sub.detach.Do(func() {
		// Closing the PubSub also closes its message channel,
		// terminating the receive goroutine.
		if err := sub.pubsub.Close(); err != nil {
			observability.LogBestEffort(t.logger, "close pubsub", err)
		}
	})
}

// Connect verifies the server is reachable.
func (t *RedisTransport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return fmt.Errorf("transport is closed")
	}
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Disconnect detaches all subscriptions and closes the client.
func (t *RedisTransport) Disconnect(_ context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	t.mu.Lock()
	subs := make([]*redisSubscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[string]*redisSubscription)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.detach.Do(func() {
			if err := sub.pubsub.Close(); err != nil {
				observability.LogBestEffort(t.logger, "close pubsub", err)
			}
		})
	}
	return t.client.Close()
}

// IsConnected reports whether the transport is open.
func (t *RedisTransport) IsConnected() bool {
	return !t.closed.Load()
}
