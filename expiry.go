package cache

import (
	"time"

	"go.uber.org/zap"
)

// armLocked schedules the active removal of key after ttl. Timers are owned
// by the cache and stopped by Close.
func (c *LocalCache[K, V]) armLocked(key K, generation uint64, ttl time.Duration) {
	if c.closed || c.Options.DisableActiveExpiration {
		return
	}
	c.timers[generation] = c.Options.Clock.AfterFunc(ttl, func() {
		c.expire(key, generation)
	})
}

// expire runs when the timer armed by the Set with the given generation fires.
// Unless GuardedExpiration is set it removes whatever is stored under key,
// including an entry written by a later Set.
func (c *LocalCache[K, V]) expire(key K, generation uint64) {
	c.mu.Lock()
	if _, ok := c.timers[generation]; !ok {
		// stopped by Close
		c.mu.Unlock()
		return
	}
	delete(c.timers, generation)

	entry, ok := c.lru.Peek(key)
	if !ok || (c.Options.GuardedExpiration && entry.generation != generation) {
		c.mu.Unlock()
		return
	}
	c.lru.Remove(key)
	event := c.event(CacheEventExpire, key, entry)
	c.mu.Unlock()

	c.logger.Debug("expired entry", zap.String("key", c.Options.CacheKey.Marshal(key)))
	c.metrics.expired()
	c.metrics.resized(-1)
	c.emit(event)
}

// PendingExpirations returns the number of armed TTL timers.
func (c *LocalCache[K, V]) PendingExpirations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Close stops all pending TTL timers. The cache stays usable afterwards but
// expiration becomes passive only.
// Close is safe to call multiple times.
func (c *LocalCache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for generation, timer := range c.timers {
		timer.Stop()
		delete(c.timers, generation)
	}
	c.mu.Unlock()

	return nil
}
