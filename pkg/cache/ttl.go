// Package cache is a small in-process TTL cache for hot lookups.
package cache

import (
	"sync"
	"time"
)

// TTL holds at most maxSize entries, each for ttl. When full, the oldest
// entry is evicted.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

func NewTTL[K comparable, V any](ttl time.Duration, maxSize int) *TTL[K, V] {
	return &TTL[K, V]{
		data:    make(map[K]entry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictOldest()
	}
	now := c.now()
	c.data[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl), createdAt: now}
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *TTL[K, V]) evictOldest() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for key, e := range c.data {
		if !found || e.createdAt.Before(oldest) {
			oldestKey, oldest, found = key, e.createdAt, true
		}
	}
	if found {
		delete(c.data, oldestKey)
	}
}

// StartCleanup drops expired entries every interval until the returned
// function is called.
func (c *TTL[K, V]) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanupExpired()
			case <-stop:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func (c *TTL[K, V]) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, key)
		}
	}
}
