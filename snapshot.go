package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// snapshot is the persisted form of a LocalCache. MaxSize is nil when the
// cache is unbounded. Entries are listed from least to most recently used.
// Cache and ExpirationTimes are pointers so that missing fields can be told
// apart from empty lists.
type snapshot[K comparable, V any] struct {
	Cache           *[]snapshotEntry[K, V]   `json:"cache" msgpack:"cache"`
	ExpirationTimes *[]snapshotExpiration[K] `json:"expirationTimes" msgpack:"expirationTimes"`
	MaxSize         *int                     `json:"maxSize" msgpack:"maxSize"`
}

// snapshotEntry is encoded as a [key, value] pair.
type snapshotEntry[K comparable, V any] struct {
	_msgpack struct{} `msgpack:",as_array"`
	Key      K
	Value    V
}

func (e snapshotEntry[K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Key, e.Value})
}

func (e *snapshotEntry[K, V]) UnmarshalJSON(data []byte) error {
	pair, err := unmarshalPair(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.Key); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &e.Value)
}

// snapshotExpiration is encoded as a [key, unix milliseconds] pair.
type snapshotExpiration[K comparable] struct {
	_msgpack struct{} `msgpack:",as_array"`
	Key      K
	At       int64
}

func (e snapshotExpiration[K]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Key, e.At})
}

func (e *snapshotExpiration[K]) UnmarshalJSON(data []byte) error {
	pair, err := unmarshalPair(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.Key); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &e.At)
}

func unmarshalPair(data []byte) ([]json.RawMessage, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, err
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("expected a pair, got %d elements", len(pair))
	}
	return pair, nil
}

// Serialize encodes entries, expiration times and the capacity bound with the
// configured Codec. Entries keep their recency order.
func (c *LocalCache[K, V]) Serialize() (string, error) {
	c.mu.Lock()
	keys := c.lru.Keys()
	entries := make([]snapshotEntry[K, V], 0, len(keys))
	expirations := make([]snapshotExpiration[K], 0)
	for _, key := range keys {
		entry, _ := c.lru.Peek(key)
		entries = append(entries, snapshotEntry[K, V]{Key: key, Value: entry.value})
		if !entry.expiresAt.IsZero() {
			expirations = append(expirations, snapshotExpiration[K]{Key: key, At: entry.expiresAt.UnixMilli()})
		}
	}
	s := snapshot[K, V]{Cache: &entries, ExpirationTimes: &expirations}
	if c.Options.MaxSize != Unbounded {
		maxSize := c.Options.MaxSize
		s.MaxSize = &maxSize
	}
	c.mu.Unlock()

	data, err := c.Options.Codec.Marshal(&s)
	if err != nil {
		return "", fmt.Errorf("cache: serialize snapshot: %w", err)
	}
	return string(data), nil
}

// Deserialize builds a new LocalCache from the output of Serialize. The
// capacity bound of the snapshot replaces options.MaxSize. Restored
// expiration times are only checked on read unless options.RearmOnLoad is set.
func Deserialize[K comparable, V any](data string, options *LocalCacheOptions[K]) (*LocalCache[K, V], error) {
	options = options.withDefaults()

	s, err := decodeSnapshot[K, V](data, options.Codec)
	if err != nil {
		options.Logger.Warn("rejected cache snapshot", zap.String("cache", options.Name), zap.Error(err))
		return nil, err
	}

	restored := *options
	restored.MaxSize = Unbounded
	if s.MaxSize != nil {
		restored.MaxSize = *s.MaxSize
	}
	c := NewLocalCache[K, V](&restored)

	expirations := make(map[K]time.Time, len(*s.ExpirationTimes))
	for _, e := range *s.ExpirationTimes {
		expirations[e.Key] = time.UnixMilli(e.At)
	}

	c.mu.Lock()
	for _, e := range *s.Cache {
		if c.atCapacityLocked(e.Key) {
			c.lru.RemoveOldest()
		}
		c.generation++
		c.lru.Add(e.Key, &localEntry[V]{
			value:      e.Value,
			expiresAt:  expirations[e.Key],
			generation: c.generation,
		})
	}

	if c.Options.RearmOnLoad {
		now := c.Options.Clock.Now()
		for _, key := range c.lru.Keys() {
			entry, _ := c.lru.Peek(key)
			if entry.expiresAt.IsZero() {
				continue
			}
			// already expired entries are left to the read path
			if remaining := entry.expiresAt.Sub(now); remaining > 0 {
				c.armLocked(key, entry.generation, remaining)
			}
		}
	}
	size := c.lru.Len()
	c.mu.Unlock()

	c.metrics.resized(size)
	c.logger.Debug("restored cache snapshot",
		zap.Int("entries", size),
		zap.Int("maxSize", c.Options.MaxSize),
		zap.Bool("rearmed", c.Options.RearmOnLoad),
	)
	return c, nil
}

func decodeSnapshot[K comparable, V any](data string, codec Codec) (*snapshot[K, V], error) {
	if strings.TrimSpace(data) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedSnapshot)
	}

	var s *snapshot[K, V]
	if err := codec.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: null snapshot", ErrMalformedSnapshot)
	}
	if s.Cache == nil {
		return nil, fmt.Errorf("%w: missing cache entries", ErrMalformedSnapshot)
	}
	if s.ExpirationTimes == nil {
		return nil, fmt.Errorf("%w: missing expiration times", ErrMalformedSnapshot)
	}
	if s.MaxSize != nil && *s.MaxSize < 0 {
		return nil, fmt.Errorf("%w: negative maxSize %d", ErrMalformedSnapshot, *s.MaxSize)
	}
	return s, nil
}
