// Package cache provides a bounded, TTL'd, LRU-evicted view over events,
// optionally backed by a storage.Store.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
	"github.com/randalmurphal/eventkit/pkg/eventkit/storage"
)

// Mode selects how the cache interacts with its backing store.
type Mode string

// Cache mode constants.
const (
	// ModeMemory keeps events in memory only.
	ModeMemory Mode = "memory"

	// ModeStorageOnly bypasses memory entirely; every operation
	// delegates to the backing store.
	ModeStorageOnly Mode = "storage_only"

	// ModeWriteThrough keeps events in memory and also persists
	// every write to the backing store.
	ModeWriteThrough Mode = "write_through"
)

// ErrStoreRequired is returned when a storage-backed mode has no store.
var ErrStoreRequired = fmt.Errorf("cache mode requires a backing store")

// Config configures cache behavior.
type Config struct {
	// Mode selects the caching strategy. Default: ModeMemory.
	Mode Mode

	// MaxSize bounds the in-memory entry count. Default: 1000.
	MaxSize int

	// TTL is the entry time-to-live. An entry is stale once its age
	// strictly exceeds TTL. Default: 5 minutes.
	TTL time.Duration

	// Store is the backing store. Required for ModeStorageOnly and
	// ModeWriteThrough; optional otherwise.
	Store storage.Store

	// FallbackToStore enables reading through to the store on a
	// memory miss, re-inserting loaded events into memory.
	FallbackToStore bool

	// Logger receives best-effort failure warnings. Optional.
	Logger *slog.Logger

	// Metrics records hits, misses, and evictions. Optional.
	Metrics observability.MetricsRecorder
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	Mode:    ModeMemory,
	MaxSize: 1000,
	TTL:     5 * time.Minute,
}

// Stats reports cache counters. Counters reset only when the cache
// is recreated.
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
}

// entry pairs an event with its insertion time. Entries never leave
// the cache; they are destroyed on removal, eviction, or lazy expiry.
type entry struct {
	evt        event.Event
	insertedAt time.Time
	elem       *list.Element // position in the recency list
}

// Cache is a bounded, TTL'd, LRU-evicted event cache.
// All methods are safe for concurrent use.
type Cache struct {
	config  Config
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used, back = least

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache. Construction fails when the mode requires a
// backing store and none was supplied.
func New(config Config) (*Cache, error) {
	if config.Mode == "" {
		config.Mode = DefaultConfig.Mode
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig.MaxSize
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig.TTL
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}

	if (config.Mode == ModeStorageOnly || config.Mode == ModeWriteThrough) && config.Store == nil {
		return nil, fmt.Errorf("%w: mode %q", ErrStoreRequired, config.Mode)
	}

	return &Cache{
		config:  config,
		logger:  observability.ComponentLogger(config.Logger, "cache"),
		metrics: config.Metrics,
		entries: make(map[string]*entry),
		lru:     list.New(),
	}, nil
}

// Add inserts an event, overwriting any entry with the same id and
// marking it most recently used. At capacity, the least recently used
// entry is evicted first. In ModeWriteThrough the event is also
// persisted, with storage failures swallowed - the event stays valid
// in memory regardless of persistence outcome.
func (c *Cache) Add(ctx context.Context, evt event.Event) error {
	if c.config.Mode == ModeStorageOnly {
		return c.config.Store.Save(ctx, evt)
	}

	c.mu.Lock()
	c.insert(ctx, evt)
	c.mu.Unlock()

	if c.config.Mode == ModeWriteThrough {
		c.bestEffort("write-through save", func() error {
			return c.config.Store.Save(ctx, evt)
		})
	}
	return nil
}

// Get retrieves an event by id. An expired entry is removed lazily and
// counts as a miss, not an eviction. On a memory miss with
// FallbackToStore set, the store is consulted and a loaded event is
// re-inserted (which may itself trigger an eviction).
func (c *Cache) Get(ctx context.Context, id string) (event.Event, bool) {
	if c.config.Mode == ModeStorageOnly {
		evt, err := c.config.Store.Load(ctx, id)
		if err != nil {
			if err != storage.ErrNotFound {
				observability.LogBestEffort(c.logger, "storage load", err)
			}
			c.recordMiss(ctx)
			return nil, false
		}
		c.recordHit(ctx)
		return evt, true
	}

	c.mu.Lock()
	ent, exists := c.entries[id]
	if exists {
		if !c.expired(ent) {
			c.lru.MoveToFront(ent.elem)
			c.hits++
			c.mu.Unlock()
			c.metrics.RecordCacheAccess(ctx, true)
			return ent.evt, true
		}
		// Expiry, not eviction: no eviction counter increment.
		c.removeEntry(id, ent)
	}
	c.mu.Unlock()

	if c.config.Store != nil && c.config.FallbackToStore {
		evt, err := c.config.Store.Load(ctx, id)
		if err == nil {
			c.mu.Lock()
			c.insert(ctx, evt)
			c.hits++
			c.mu.Unlock()
			c.metrics.RecordCacheAccess(ctx, true)
			return evt, true
		}
		if err != storage.ErrNotFound {
			observability.LogBestEffort(c.logger, "storage fallback load", err)
		}
	}

	c.recordMiss(ctx)
	return nil, false
}

// GetEvents returns non-expired events matching the criteria, sorted
// by occurrence time descending and truncated to the criteria limit.
func (c *Cache) GetEvents(ctx context.Context, criteria storage.Criteria) ([]event.Event, error) {
	if c.config.Mode == ModeStorageOnly {
		return c.config.Store.Query(ctx, criteria)
	}

	c.mu.Lock()
	events := make([]event.Event, 0, len(c.entries))
	for _, ent := range c.entries {
		if c.expired(ent) {
			continue
		}
		if criteria.Matches(ent.evt) {
			events = append(events, ent.evt)
		}
	}
	c.mu.Unlock()

	storage.SortByOccurredOnDesc(events)
	if criteria.Limit > 0 && len(events) > criteria.Limit {
		events = events[:criteria.Limit]
	}
	return events, nil
}

// Remove deletes an event from memory and, best-effort, from the
// backing store. Reports whether a memory entry existed; in
// ModeStorageOnly it reports the store's result instead.
func (c *Cache) Remove(ctx context.Context, id string) bool {
	if c.config.Mode == ModeStorageOnly {
		removed, err := c.config.Store.Delete(ctx, id)
		if err != nil {
			observability.LogBestEffort(c.logger, "storage delete", err)
			return false
		}
		return removed
	}

	c.mu.Lock()
	ent, existed := c.entries[id]
	if existed {
		c.removeEntry(id, ent)
	}
	c.mu.Unlock()

	if c.config.Store != nil {
		c.bestEffort("storage delete", func() error {
			_, err := c.config.Store.Delete(ctx, id)
			return err
		})
	}
	return existed
}

// Clear empties memory and the recency list. With a backing store
// attached, everything the store currently reports via an unfiltered
// query is deleted best-effort; storage failures never reach the caller.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.mu.Unlock()

	if c.config.Store == nil {
		return
	}
	c.bestEffort("storage clear", func() error {
		events, err := c.config.Store.Query(ctx, storage.Criteria{})
		if err != nil {
			return err
		}
		for _, evt := range events {
			if _, err := c.config.Store.Delete(ctx, evt.ID()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Mode returns the configured cache mode.
func (c *Cache) Mode() Mode {
	return c.config.Mode
}

// expired applies the strict TTL rule: an entry exactly at the
// boundary is still valid.
func (c *Cache) expired(ent *entry) bool {
	return time.Since(ent.insertedAt) > c.config.TTL
}

// insert adds or overwrites an entry and marks it most recently used,
// evicting the least recently used entry when a new id would exceed
// capacity. Caller must hold the mutex.
func (c *Cache) insert(ctx context.Context, evt event.Event) {
	id := evt.ID()
	if ent, exists := c.entries[id]; exists {
		ent.evt = evt
		ent.insertedAt = time.Now()
		c.lru.MoveToFront(ent.elem)
		return
	}

	if len(c.entries) >= c.config.MaxSize {
		c.evictOldest(ctx)
	}

	elem := c.lru.PushFront(id)
	c.entries[id] = &entry{
		evt:        evt,
		insertedAt: time.Now(),
		elem:       elem,
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the mutex.
func (c *Cache) evictOldest(ctx context.Context) {
	back := c.lru.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	c.removeEntry(id, c.entries[id])
	c.evictions++
	c.metrics.RecordEviction(ctx)
}

// removeEntry drops an entry from the map and recency list.
// Caller must hold the mutex.
func (c *Cache) removeEntry(id string, ent *entry) {
	c.lru.Remove(ent.elem)
	delete(c.entries, id)
}

func (c *Cache) recordHit(ctx context.Context) {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	c.metrics.RecordCacheAccess(ctx, true)
}

func (c *Cache) recordMiss(ctx context.Context) {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	c.metrics.RecordCacheAccess(ctx, false)
}

// bestEffort runs a storage operation whose failure is survivable,
// logging and swallowing any error. This is the named form of the
// "local recoverable" error tier.
func (c *Cache) bestEffort(op string, fn func() error) {
	if err := fn(); err != nil {
		observability.LogBestEffort(c.logger, op, err)
	}
}
