package cache

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Unbounded disables the capacity bound when used as MaxSize.
const Unbounded = -1

// Options passed to NewLocalCache and Deserialize
//
// MaxSize: Maximum number of entries in the cache. Set to Unbounded for unlimited size.
// A MaxSize of 0 evicts the previous entry on every insert of a new key
// CacheKey: String form of keys. Defaults to StringCacheKey / IntCacheKey, fmt otherwise
// Codec: Snapshot codec used by Serialize and Deserialize. Defaults to JSONCodec
// Clock: Time source and timer factory. Defaults to the wall clock
// GuardedExpiration: A TTL timer only removes the entry it was armed for
// DisableActiveExpiration: Never arm TTL timers, expired entries are dropped on read
// RearmOnLoad: Deserialize arms TTL timers for restored entries
type LocalCacheOptions[K comparable] struct {
	MaxSize                 int
	CacheKey                CacheKey[K]
	Codec                   Codec
	Clock                   clockwork.Clock
	Logger                  *zap.Logger
	MeterProvider           metric.MeterProvider
	Name                    string
	GuardedExpiration       bool
	DisableActiveExpiration bool
	RearmOnLoad             bool
}

func (o *LocalCacheOptions[K]) GetMaxSize() int {
	if o == nil || o.MaxSize < 0 {
		return Unbounded
	}
	return o.MaxSize
}

func (o *LocalCacheOptions[K]) withDefaults() *LocalCacheOptions[K] {
	out := LocalCacheOptions[K]{}
	if o != nil {
		out = *o
	}
	out.MaxSize = o.GetMaxSize()
	if out.CacheKey == nil {
		out.CacheKey = defaultCacheKey[K]()
	}
	if out.Codec == nil {
		out.Codec = &JSONCodec{}
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.MeterProvider == nil {
		out.MeterProvider = otel.GetMeterProvider()
	}
	if out.Name == "" {
		out.Name = "default"
	}
	return &out
}

type localEntry[V any] struct {
	value     V
	expiresAt time.Time
	// generation identifies the Set that stored the entry
	generation uint64
}

func (e *localEntry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LocalCache is an in-process LRU cache with per-entry TTL.
// All state is guarded by a single mutex, including removals fired by TTL timers.
type LocalCache[K comparable, V any] struct {
	Options *LocalCacheOptions[K]

	mu         sync.Mutex
	lru        *simplelru.LRU[K, *localEntry[V]]
	timers     map[uint64]clockwork.Timer
	generation uint64
	closed     bool

	callbacks   []func(CacheEvent[K, V])
	callbacksMu sync.RWMutex

	logger  *zap.Logger
	metrics *cacheMetrics
}

func NewLocalCache[K comparable, V any](options *LocalCacheOptions[K]) *LocalCache[K, V] {
	options = options.withDefaults()

	// eviction is done by hand before insertion, the LRU itself never evicts
	lru, err := simplelru.NewLRU[K, *localEntry[V]](math.MaxInt, nil)
	if err != nil {
		panic(err)
	}

	c := &LocalCache[K, V]{
		Options: options,
		lru:     lru,
		timers:  make(map[uint64]clockwork.Timer),
		logger:  options.Logger.With(zap.String("cache", options.Name)),
	}
	c.metrics = newCacheMetrics(options.MeterProvider, options.Name, c.logger)
	return c
}

// Set stores value under key and marks it most recently used. A positive ttl
// records an expiration time and arms a timer that removes the key once ttl
// elapses. Set returns true if another entry was evicted to make room.
func (c *LocalCache[K, V]) Set(key K, value V, ttl time.Duration) bool {
	var events []CacheEvent[K, V]

	c.mu.Lock()
	evicted := false
	if c.atCapacityLocked(key) {
		if event, ok := c.evictOldestLocked(); ok {
			events = append(events, event)
			evicted = true
		}
	}
	added := !c.lru.Contains(key)

	c.generation++
	entry := &localEntry[V]{value: value, generation: c.generation}
	if ttl > 0 {
		entry.expiresAt = c.Options.Clock.Now().Add(ttl)
		c.armLocked(key, c.generation, ttl)
	}
	c.lru.Add(key, entry)
	events = append(events, c.event(CacheEventSet, key, entry))
	c.mu.Unlock()

	if evicted {
		c.metrics.evicted()
		c.metrics.resized(-1)
	}
	if added {
		c.metrics.resized(1)
	}
	c.emit(events...)
	return evicted
}

// Get returns the value stored under key and promotes it to most recently
// used. An entry whose expiration time has passed is removed and reported
// as absent.
func (c *LocalCache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	entry, ok := c.lru.Peek(key)
	if !ok {
		c.mu.Unlock()
		c.metrics.miss()
		return zero, false
	}

	if entry.expired(c.Options.Clock.Now()) {
		c.lru.Remove(key)
		event := c.event(CacheEventExpire, key, entry)
		c.mu.Unlock()

		c.metrics.expired()
		c.metrics.miss()
		c.metrics.resized(-1)
		c.emit(event)
		return zero, false
	}

	c.lru.Get(key)
	c.mu.Unlock()

	c.metrics.hit()
	return entry.value, true
}

// Remove deletes key if present. Pending TTL timers for key are left armed.
func (c *LocalCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	entry, ok := c.lru.Peek(key)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.lru.Remove(key)
	event := c.event(CacheEventRemove, key, entry)
	c.mu.Unlock()

	c.metrics.resized(-1)
	c.emit(event)
	return true
}

// RemovePrefix deletes every key whose CacheKey form starts with prefix and
// returns the number of removed entries.
func (c *LocalCache[K, V]) RemovePrefix(prefix string) int {
	var events []CacheEvent[K, V]

	c.mu.Lock()
	for _, key := range c.lru.Keys() {
		if !strings.HasPrefix(c.Options.CacheKey.Marshal(key), prefix) {
			continue
		}
		entry, _ := c.lru.Peek(key)
		c.lru.Remove(key)
		events = append(events, c.event(CacheEventRemove, key, entry))
	}
	c.mu.Unlock()

	c.metrics.resized(-len(events))
	c.emit(events...)
	return len(events)
}

func (c *LocalCache[K, V]) Clear() {
	c.mu.Lock()
	removed := c.lru.Len()
	c.lru.Purge()
	c.mu.Unlock()

	c.metrics.resized(-removed)
	c.emit(CacheEvent[K, V]{Type: CacheEventClear})
}

// Contains reports whether key holds a live entry without touching recency.
func (c *LocalCache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(key)
	return ok && !entry.expired(c.Options.Clock.Now())
}

// Size returns the number of stored entries, including expired entries that
// have not been removed yet.
func (c *LocalCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// MaxSize returns the capacity bound, Unbounded when there is none.
func (c *LocalCache[K, V]) MaxSize() int {
	return c.Options.MaxSize
}

// Keys returns the stored keys from least to most recently used.
func (c *LocalCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Entries returns copies of the stored entries from least to most recently used.
func (c *LocalCache[K, V]) Entries() []CacheEntry[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys()
	entries := make([]CacheEntry[K, V], 0, len(keys))
	for _, key := range keys {
		entry, _ := c.lru.Peek(key)
		entries = append(entries, *cacheEntry(key, entry))
	}
	return entries
}

func (c *LocalCache[K, V]) AddCallback(callback func(CacheEvent[K, V])) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// emit runs callbacks outside of callbacksMu so they may register further callbacks.
func (c *LocalCache[K, V]) emit(events ...CacheEvent[K, V]) {
	if len(events) == 0 {
		return
	}
	c.callbacksMu.RLock()
	callbacks := append([]func(CacheEvent[K, V]){}, c.callbacks...)
	c.callbacksMu.RUnlock()

	for _, event := range events {
		for _, callback := range callbacks {
			callback(event)
		}
	}
}

func (c *LocalCache[K, V]) event(eventType CacheEventType, key K, entry *localEntry[V]) CacheEvent[K, V] {
	return CacheEvent[K, V]{Type: eventType, Entry: cacheEntry(key, entry)}
}

func cacheEntry[K comparable, V any](key K, entry *localEntry[V]) *CacheEntry[K, V] {
	value := entry.value
	return &CacheEntry[K, V]{
		Key:       key,
		Value:     &value,
		ExpiresAt: entry.expiresAt,
	}
}

// atCapacityLocked reports whether inserting key requires an eviction first.
func (c *LocalCache[K, V]) atCapacityLocked(key K) bool {
	return c.Options.MaxSize != Unbounded && c.lru.Len() >= c.Options.MaxSize && !c.lru.Contains(key)
}

func (c *LocalCache[K, V]) evictOldestLocked() (CacheEvent[K, V], bool) {
	key, entry, ok := c.lru.RemoveOldest()
	if !ok {
		return CacheEvent[K, V]{}, false
	}
	c.logger.Debug("evicted least recently used entry", zap.String("key", c.Options.CacheKey.Marshal(key)))
	return c.event(CacheEventEvict, key, entry), true
}
