// Package loader coalesces individual lookups of one entity type into batched
// fetches.
//
// A Loader is scoped to a single incoming request. Keys passed to Load are
// accumulated into a pending batch, which is dispatched as one call to the
// batch function as soon as any caller waits on a result (or Dispatch is
// called). Results are memoized for the lifetime of the Loader, so a key is
// fetched at most once per request. A Loader must never be shared between
// requests: its memoized results would leak between unrelated callers.
//
// The usual pattern when resolving a field for every object of a response is
// to Load all keys first, then Get each thunk:
//
//	thunks := make([]*loader.Thunk[*Driver], len(orders))
//	for i, o := range orders {
//		thunks[i] = drivers.Load(o.DriverID)
//	}
//	for i, th := range thunks {
//		orders[i].Driver, _, err = th.Get(ctx) // first Get dispatches one batch
//	}
package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// BatchFunc fetches the values for a set of distinct keys. Keys missing from
// the returned map are reported as not found; an error fails every key of the
// batch.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

type Loader[K comparable, V any] struct {
	name     string
	ctx      context.Context
	fetch    BatchFunc[K, V]
	maxBatch int

	mu      sync.Mutex
	memo    map[K]*Thunk[V]
	pending *batch[K, V]
}

type Option func(*options)

type options struct {
	maxBatch int
}

// WithMaxBatch dispatches a pending batch as soon as it holds n keys. Zero
// (the default) leaves batches unbounded.
func WithMaxBatch(n int) Option {
	return func(o *options) {
		o.maxBatch = n
	}
}

// New creates a Loader bound to the request context ctx, which is passed to
// every batch fetch. The name identifies the loader in logs and errors.
func New[K comparable, V any](ctx context.Context, name string, fetch BatchFunc[K, V], opts ...Option) *Loader[K, V] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return &Loader[K, V]{
		name:     name,
		ctx:      ctx,
		fetch:    fetch,
		maxBatch: o.maxBatch,
		memo:     make(map[K]*Thunk[V]),
	}
}

type batch[K comparable, V any] struct {
	keys   []K
	thunks []*Thunk[V]
	once   sync.Once
}

// Load returns the thunk for key, queueing the key on the pending batch if it
// has not been requested from this Loader before. Load never blocks.
func (l *Loader[K, V]) Load(key K) *Thunk[V] {
	l.mu.Lock()

	if th, ok := l.memo[key]; ok {
		l.mu.Unlock()
		return th
	}

	if l.pending == nil {
		l.pending = &batch[K, V]{}
	}
	b := l.pending

	th := newThunk[V](func() { l.dispatch(b) })
	l.memo[key] = th
	b.keys = append(b.keys, key)
	b.thunks = append(b.thunks, th)

	full := l.maxBatch > 0 && len(b.keys) >= l.maxBatch
	l.mu.Unlock()

	if full {
		l.dispatch(b)
	}

	return th
}

// LoadAll loads every key in a single batch (together with any keys already
// pending) and waits for the results. Keys that were not found are absent
// from the returned map.
func (l *Loader[K, V]) LoadAll(ctx context.Context, keys []K) (map[K]V, error) {
	thunks := make([]*Thunk[V], len(keys))
	for i, key := range keys {
		thunks[i] = l.Load(key)
	}
	l.Dispatch()

	out := make(map[K]V, len(keys))
	for i, th := range thunks {
		value, found, err := th.Get(ctx)
		if err != nil {
			return nil, err
		}
		if found {
			out[keys[i]] = value
		}
	}

	return out, nil
}

// Dispatch closes the pending batch, if any, and starts fetching it. Loads
// made afterwards start a new batch.
func (l *Loader[K, V]) Dispatch() {
	l.mu.Lock()
	b := l.pending
	l.mu.Unlock()

	if b != nil {
		l.dispatch(b)
	}
}

func (l *Loader[K, V]) dispatch(b *batch[K, V]) {
	b.once.Do(func() {
		l.mu.Lock()
		if l.pending == b {
			l.pending = nil
		}
		l.mu.Unlock()

		go l.run(b)
	})
}

// run performs the fetch for a closed batch. No key can be added to b once
// it has been detached from the loader.
func (l *Loader[K, V]) run(b *batch[K, V]) {
	log.Ctx(l.ctx).Debug().
		Str("loader", l.name).
		Int("keys", len(b.keys)).
		Msg("dispatching batch")

	results, err := l.safeFetch(b.keys)
	if err != nil {
		batchErr := &BatchError{Loader: l.name, Keys: len(b.keys), Err: err}
		for _, th := range b.thunks {
			th.resolve(*new(V), false, batchErr)
		}
		return
	}

	for i, key := range b.keys {
		value, found := results[key]
		b.thunks[i].resolve(value, found, nil)
	}
}

func (l *Loader[K, V]) safeFetch(keys []K) (results map[K]V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return l.fetch(l.ctx, keys)
}

// BatchError reports a failed batch fetch. Every key of the batch receives the
// same BatchError.
type BatchError struct {
	Loader string
	Keys   int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("loader %s: batch of %d keys failed: %v", e.Loader, e.Keys, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
