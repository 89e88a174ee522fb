// Package ratelimit bounds concurrent access to external services with
// named weighted semaphores.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Well-known resource names. Each maps to an independent concurrency bound.
const (
	ResourceMetaculus = "metaculus"
	ResourceSearch    = "search"
	ResourceWayback   = "wayback"
)

// DefaultLimits are the per-resource concurrency ceilings.
var DefaultLimits = map[string]int64{
	ResourceMetaculus: 5,
	ResourceSearch:    3,
	ResourceWayback:   5,
}

// Limiter manages one weighted semaphore per named resource. Semaphores are
// allocated lazily on first use so unconfigured resources get the default
// limit.
type Limiter struct {
	mu     sync.Mutex
	sems   map[string]*semaphore.Weighted
	limits map[string]int64
	def    int64
}

// NewLimiter creates a limiter with the given per-resource limits; names
// absent from limits fall back to defaultLimit (or 3 if non-positive).
func NewLimiter(limits map[string]int64, defaultLimit int64) *Limiter {
	if defaultLimit <= 0 {
		defaultLimit = 3
	}
	merged := make(map[string]int64, len(limits))
	for name, n := range limits {
		if n > 0 {
			merged[name] = n
		}
	}
	return &Limiter{
		sems:   make(map[string]*semaphore.Weighted),
		limits: merged,
		def:    defaultLimit,
	}
}

// NewDefaultLimiter creates a limiter with DefaultLimits.
func NewDefaultLimiter() *Limiter {
	return NewLimiter(DefaultLimits, 3)
}

func (l *Limiter) sem(resource string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sem, ok := l.sems[resource]; ok {
		return sem
	}
	limit, ok := l.limits[resource]
	if !ok {
		limit = l.def
	}
	sem := semaphore.NewWeighted(limit)
	l.sems[resource] = sem
	return sem
}

// Acquire blocks until a slot for the resource is available or ctx is
// cancelled. The returned release function must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context, resource string) (release func(), err error) {
	sem := l.sem(resource)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// TryAcquire acquires a slot without blocking. It reports whether the slot
// was acquired; the release function is non-nil only on success.
func (l *Limiter) TryAcquire(resource string) (release func(), ok bool) {
	sem := l.sem(resource)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, true
}

// Limit returns the configured ceiling for a resource.
func (l *Limiter) Limit(resource string) int64 {
	if n, ok := l.limits[resource]; ok {
		return n
	}
	return l.def
}
