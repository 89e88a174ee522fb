// Package cache provides a TTL cache with LRU eviction for idempotent
// research calls.
package cache

import (
	"container/list"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is applied when a Set call passes a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// TTLCache caches values keyed by (function name, canonicalised arguments)
// with per-entry expiry. Entries expire on read; overflow evicts the least
// recently used entry. Hit and miss counts are tracked for metrics.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int

	hits   int64
	misses int64

	now func() time.Time
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Options configures the cache.
type Options struct {
	// MaxSize bounds the number of entries (0 means 1024).
	MaxSize int
}

// New creates a TTL cache.
func New(opts Options) *TTLCache {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &TTLCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Key builds a cache key from a function name and its arguments. Arguments
// are canonicalised by marshalling to JSON with sorted keys so that
// logically equal calls collide.
func Key(fn string, args map[string]any) string {
	if len(args) == 0 {
		return fn
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(fn)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		b, err := json.Marshal(args[k])
		if err != nil {
			sb.WriteString("?")
			continue
		}
		sb.Write(b)
	}
	return sb.String()
}

// Get returns the cached value for key, or (nil, false) on miss. Expired
// entries are removed and counted as misses.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

// Set stores value under key with the given TTL. A non-positive TTL falls
// back to DefaultTTL.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
	c.entries[key] = elem
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *TTLCache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	ent := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.entries, ent.key)
}

// Delete removes a key if present.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Len returns the number of live entries, without touching expiry.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports cumulative hit and miss counts.
func (c *TTLCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// GetOrFill returns the cached value or invokes fill, caching its result.
// Errors from fill are not cached.
func (c *TTLCache) GetOrFill(key string, ttl time.Duration, fill func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fill()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}
