package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// TTL is a read-through cache of query results. Entries expire individually
// after the TTL supplied when they were computed. Concurrent misses for the
// same key share a single computation: the compute function runs once and
// every waiting caller receives its result, value or error alike.
//
// Failed computations are never cached. A computation that was running when
// the cache was invalidated still answers its callers, but its result is not
// stored.
type TTL[V any] struct {
	name    string
	store   *otter.Cache[string, entry[V]]
	counter *stats.Counter
	flights singleflight.Group

	// generation changes on every invalidation. Flights are keyed by it, and a
	// flight only stores its result if the generation it started in is still
	// current.
	mu         sync.RWMutex
	generation uint64

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value V
	ttl   time.Duration
}

// New creates a cache holding at most maxSize live entries. The name
// identifies the cache in metrics.
func New[V any](name string, maxSize int) (*TTL[V], error) {
	counter := stats.NewCounter()
	store, err := otter.New(&otter.Options[string, entry[V]]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
		ExpiryCalculator: otter.ExpiryWritingFunc(func(e otter.Entry[string, entry[V]]) time.Duration {
			return e.Value.ttl
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", name, err)
	}

	initMetrics()

	return &TTL[V]{
		name:    name,
		store:   store,
		counter: counter,
	}, nil
}

// Name returns the name given to the cache at creation.
func (c *TTL[V]) Name() string {
	return c.name
}

// GetOrCompute returns the live value for key, or computes, stores and
// returns it. A ttl of zero or less shares the computation between concurrent
// callers without storing the result.
//
// The computation is detached from the cancellation of the caller that
// started it, so that other callers waiting on the same key are unaffected
// when that caller goes away. A caller stops waiting when its own context is
// done.
func (c *TTL[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc[V]) (V, error) {
	if e, ok := c.store.GetIfPresent(key); ok {
		c.hits.Add(1)
		c.recordOperation(ctx, statusHit)
		return e.value, nil
	}

	c.misses.Add(1)
	c.recordOperation(ctx, statusMiss)

	c.mu.RLock()
	generation := c.generation
	c.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	flight := strconv.FormatUint(generation, 10) + "/" + key
	ch := c.flights.DoChan(flight, func() (any, error) {
		// A flight for this key may have settled between the lookup above and
		// joining here: its value is already stored.
		if e, ok := c.store.GetIfPresent(key); ok {
			return e.value, nil
		}
		return c.compute(detached, key, ttl, generation, compute)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		value, _ := res.Val.(V)
		return value, nil

	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// compute runs the supplied function and stores a successful result before
// the flight is released, so no caller observes the key as both absent and
// idle while a fresh value exists.
func (c *TTL[V]) compute(ctx context.Context, key string, ttl time.Duration, generation uint64, compute ComputeFunc[V]) (result any, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &ComputeError{Cache: c.name, Key: key, Err: fmt.Errorf("panic: %v", r)}
		}

		if err != nil {
			c.errors.Add(1)
			c.recordOperation(ctx, statusError)
		}
		c.recordDuration(ctx, time.Since(start), err)
	}()

	value, err := compute(ctx)
	if err != nil {
		return nil, &ComputeError{Cache: c.name, Key: key, Err: err}
	}

	if ttl > 0 {
		if !c.storeIfCurrent(key, value, ttl, generation) {
			log.Ctx(ctx).Debug().
				Str("cache", c.name).
				Str("key", key).
				Msg("cache invalidated during computation, result not stored")
		}
	}

	return value, nil
}

// Invalidate discards the entry for key, if any. Computations already in
// flight will not store their results; callers arriving afterwards start a
// new computation.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.store.Invalidate(key)
}

// InvalidateAll discards every entry, with the same effect on computations in
// flight as Invalidate.
func (c *TTL[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.store.InvalidateAll()
}

// storeIfCurrent stores a computed value unless the cache was invalidated
// after the computation started.
func (c *TTL[V]) storeIfCurrent(key string, value V, ttl time.Duration, generation uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.generation != generation {
		return false
	}

	c.store.Set(key, entry[V]{value: value, ttl: ttl})
	return true
}

// Size returns the number of live entries. Expired entries that have not yet
// been evicted are not counted.
func (c *TTL[V]) Size() int {
	n := 0
	for range c.store.All() {
		n++
	}
	return n
}

// Metrics returns a snapshot of the cache counters.
func (c *TTL[V]) Metrics() Metrics {
	hits := c.hits.Load()
	misses := c.misses.Load()

	return Metrics{
		Hits:      hits,
		Misses:    misses,
		Errors:    c.errors.Load(),
		Total:     hits + misses,
		HitRate:   hitRate(hits, misses),
		Size:      c.Size(),
		Evictions: c.counter.Snapshot().Evictions,
	}
}

// Metrics is a point-in-time view of a cache's effectiveness. Hits and Misses
// count GetOrCompute calls; Errors counts failed computations.
type Metrics struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Errors    uint64  `json:"errors"`
	Total     uint64  `json:"total"`
	HitRate   float64 `json:"hitRate"`
	Size      int     `json:"size"`
	Evictions uint64  `json:"evictions"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
