package cache

import (
	"errors"
	"time"
)

// ErrMalformedSnapshot is returned by Deserialize when the input cannot be parsed.
var ErrMalformedSnapshot = errors.New("cache: malformed snapshot")

type CacheEntry[K comparable, V any] struct {
	Key   K
	Value *V
	// ExpiresAt is the zero time for entries without a TTL
	ExpiresAt time.Time
}

type CacheEventType int

const (
	CacheEventSet CacheEventType = iota
	CacheEventRemove
	CacheEventEvict
	CacheEventExpire
	CacheEventClear
)

func (t CacheEventType) String() string {
	switch t {
	case CacheEventSet:
		return "set"
	case CacheEventRemove:
		return "remove"
	case CacheEventEvict:
		return "evict"
	case CacheEventExpire:
		return "expire"
	case CacheEventClear:
		return "clear"
	default:
		return "unknown"
	}
}

// CacheEvent is passed to callbacks registered with AddCallback.
// Entry is nil for CacheEventClear.
type CacheEvent[K comparable, V any] struct {
	Entry *CacheEntry[K, V]
	Type  CacheEventType
}

type Cache[K comparable, V any] interface {
	Get(K) (V, bool)
	Set(K, V, time.Duration) bool
	Remove(K) bool
	Contains(K) bool
	Clear()
	Size() int
}

var _ Cache[string, any] = (*LocalCache[string, any])(nil)
