package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password is optional.
	Password string

	// DB selects the Redis logical database.
	DB int

	// KeyPrefix namespaces all keys. Default: "events:".
	KeyPrefix string

	// Retention is the per-event TTL. Default: 24h. Zero or negative
	// values fall back to the default; events are never kept forever.
	Retention time.Duration

	// DisableIndexes skips the secondary set-indexes by type, aggregate,
	// and date bucket. Queries then degrade to the all-ids index only.
	DisableIndexes bool
}

const (
	defaultKeyPrefix = "events:"
	defaultRetention = 24 * time.Hour
)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisStore persists events to Redis.
//
// Each event lives in a hash at {prefix}{id} with a "data" field holding
// the serialized event, expiring after the configured retention. Secondary
// set-indexes at {prefix}type:{t}, {prefix}aggregate:{a}, and
// {prefix}date:{YYYY-MM-DD} hold event ids and are cleaned up on delete.
type RedisStore struct {
	client   *redis.Client
	registry *event.Registry
	cfg      RedisConfig
}

// NewRedisStore creates a Redis-backed event store.
// Call Connect before use.
func NewRedisStore(cfg RedisConfig, registry *event.Registry) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:   client,
		registry: registry,
		cfg:      cfg,
	}
}

func (s *RedisStore) eventKey(id string) string {
	return s.cfg.KeyPrefix + id
}

func (s *RedisStore) typeKey(eventType string) string {
	return s.cfg.KeyPrefix + "type:" + eventType
}

func (s *RedisStore) aggregateKey(aggregateID string) string {
	return s.cfg.KeyPrefix + "aggregate:" + aggregateID
}

func (s *RedisStore) dateKey(t time.Time) string {
	return s.cfg.KeyPrefix + "date:" + t.UTC().Format("2006-01-02")
}

func (s *RedisStore) allKey() string {
	return s.cfg.KeyPrefix + "ids"
}

// Save persists an event with the configured retention TTL.
func (s *RedisStore) Save(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", evt.ID(), err)
	}

	key := s.eventKey(evt.ID())
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "type", evt.Type())
	pipe.Expire(ctx, key, s.cfg.Retention)
	pipe.SAdd(ctx, s.allKey(), evt.ID())

	if !s.cfg.DisableIndexes {
		pipe.SAdd(ctx, s.typeKey(evt.Type()), evt.ID())
		if evt.AggregateID() != "" {
			pipe.SAdd(ctx, s.aggregateKey(evt.AggregateID()), evt.ID())
		}
		pipe.SAdd(ctx, s.dateKey(evt.OccurredOn()), evt.ID())
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save event %s: %w", evt.ID(), err)
	}
	return nil
}

// Load retrieves an event by id. Expired events report ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, id string) (event.Event, error) {
	fields, err := s.client.HMGet(ctx, s.eventKey(id), "data", "type").Result()
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", id, err)
	}
	if fields[0] == nil || fields[1] == nil {
		return nil, ErrNotFound
	}

	data, _ := fields[0].(string)
	eventType, _ := fields[1].(string)
	return s.registry.Deserialize(eventType, []byte(data))
}

// Delete removes an event and its index entries.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	// Read type/aggregate/date before deleting so indexes can be cleaned.
	var evt event.Event
	if !s.cfg.DisableIndexes {
		loaded, err := s.Load(ctx, id)
		if err == nil {
			evt = loaded
		}
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.eventKey(id))
	pipe.SRem(ctx, s.allKey(), id)
	if evt != nil {
		pipe.SRem(ctx, s.typeKey(evt.Type()), id)
		if evt.AggregateID() != "" {
			pipe.SRem(ctx, s.aggregateKey(evt.AggregateID()), id)
		}
		pipe.SRem(ctx, s.dateKey(evt.OccurredOn()), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("delete event %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

// Query returns events matching the criteria, newest first.
// Index membership narrows the candidate set; ids whose hashes have
// expired are skipped.
func (s *RedisStore) Query(ctx context.Context, criteria Criteria) ([]event.Event, error) {
	ids, err := s.candidateIDs(ctx, criteria)
	if err != nil {
		return nil, err
	}

	events := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		evt, err := s.Load(ctx, id)
		if err == ErrNotFound {
			continue // expired between index read and load
		}
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

func (s *RedisStore) candidateIDs(ctx context.Context, criteria Criteria) ([]string, error) {
	if !s.cfg.DisableIndexes {
		switch {
		case criteria.EventType != "" && criteria.AggregateID != "":
			return s.client.SInter(ctx, s.typeKey(criteria.EventType), s.aggregateKey(criteria.AggregateID)).Result()
		case criteria.EventType != "":
			return s.client.SMembers(ctx, s.typeKey(criteria.EventType)).Result()
		case criteria.AggregateID != "":
			return s.client.SMembers(ctx, s.aggregateKey(criteria.AggregateID)).Result()
		case !criteria.After.IsZero() && !criteria.Before.IsZero():
			return s.dateBucketIDs(ctx, criteria.After, criteria.Before)
		}
	}
	return s.client.SMembers(ctx, s.allKey()).Result()
}

// dateBucketIDs unions the date-bucket indexes covering [after, before).
func (s *RedisStore) dateBucketIDs(ctx context.Context, after, before time.Time) ([]string, error) {
	var keys []string
	day := after.UTC().Truncate(24 * time.Hour)
	end := before.UTC()
	for !day.After(end) {
		keys = append(keys, s.dateKey(day))
		day = day.Add(24 * time.Hour)
	}
	return s.client.SUnion(ctx, keys...).Result()
}

// Connect verifies the server is reachable.
func (s *RedisStore) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Disconnect closes the client.
func (s *RedisStore) Disconnect(_ context.Context) error {
	return s.client.Close()
}

// IsConnected reports whether the server currently responds to a ping.
func (s *RedisStore) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// HealthCheck verifies the server responds.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.Connect(ctx)
}
