package loader_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/logiflow/delivery-gateway/internal/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFetch returns values from data and records every batch it is
// asked for.
type recordingFetch struct {
	mu      sync.Mutex
	data    map[string]string
	err     error
	batches [][]string
}

func (r *recordingFetch) fetch(_ context.Context, keys []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches = append(r.batches, append([]string(nil), keys...))
	if r.err != nil {
		return nil, r.err
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := r.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (r *recordingFetch) calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

func newFetch() *recordingFetch {
	return &recordingFetch{data: map[string]string{"d1": "Ana", "d2": "Luis", "d3": "Sofia"}}
}

func TestLoad_CoalescesRepeatedKey(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch)

	thunks := make([]*loader.Thunk[string], 5)
	for i := range thunks {
		thunks[i] = l.Load("d1")
	}

	for _, th := range thunks {
		assert.Same(t, thunks[0], th)

		value, found, err := th.Get(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "Ana", value)
	}

	assert.Equal(t, [][]string{{"d1"}}, f.calls())
}

func TestLoad_BatchesDistinctKeysInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch)

	a := l.Load("d2")
	b := l.Load("d1")
	c := l.Load("d2")
	d := l.Load("d3")

	for _, th := range []*loader.Thunk[string]{a, b, c, d} {
		_, _, err := th.Get(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, [][]string{{"d2", "d1", "d3"}}, f.calls())
}

func TestLoad_MissingKeyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch)

	known1 := l.Load("d1")
	known2 := l.Load("d2")
	unknown := l.Load("missing")

	value, found, err := unknown.Get(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "", value)

	value, found, err = known1.Get(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ana", value)

	_, found, err = known2.Get(ctx)
	require.NoError(t, err)
	assert.True(t, found)

	assert.Len(t, f.calls(), 1)
}

func TestLoad_NilPointerForMissingEntity(t *testing.T) {
	ctx := context.Background()
	type driver struct{ Name string }

	l := loader.New(ctx, "drivers", func(_ context.Context, keys []string) (map[string]*driver, error) {
		return map[string]*driver{"d1": {Name: "Ana"}}, nil
	})

	got, found, err := l.Load("d9").Get(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestLoad_BatchFailureRejectsEveryKey(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	f.err = errors.New("fleet service returned 503")
	l := loader.New(ctx, "drivers", f.fetch)

	thunks := []*loader.Thunk[string]{l.Load("d1"), l.Load("d2"), l.Load("d3")}

	var first error
	for _, th := range thunks {
		value, found, err := th.Get(ctx)
		require.Error(t, err)
		assert.False(t, found)
		assert.Equal(t, "", value)
		assert.ErrorIs(t, err, f.err)

		var batchErr *loader.BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Equal(t, 3, batchErr.Keys)
		assert.Equal(t, "drivers", batchErr.Loader)

		if first == nil {
			first = err
		}
		assert.Same(t, first, err)
	}

	assert.Len(t, f.calls(), 1)
}

func TestLoad_PanicInFetchRejectsBatch(t *testing.T) {
	ctx := context.Background()
	l := loader.New(ctx, "drivers", func(context.Context, []string) (map[string]string, error) {
		panic("bad upstream payload")
	})

	_, _, err := l.Load("d1").Get(ctx)
	assert.ErrorContains(t, err, "panic: bad upstream payload")
}

func TestLoad_AfterDispatchStartsNewBatch(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch)

	first := l.Load("d1")
	_, _, err := first.Get(ctx)
	require.NoError(t, err)

	second := l.Load("d2")
	again := l.Load("d1")
	assert.Same(t, first, again, "memoized for the loader lifetime")

	_, _, err = second.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"d1"}, {"d2"}}, f.calls())
}

func TestLoad_ExplicitDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch)

	a := l.Load("d1")
	l.Dispatch()
	_, _, err := a.Get(ctx)
	require.NoError(t, err)

	b := l.Load("d2")
	l.Dispatch()
	l.Dispatch() // nothing pending
	_, _, err = b.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"d1"}, {"d2"}}, f.calls())
}

func TestLoad_MaxBatch(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch, loader.WithMaxBatch(2))

	keys := []string{"d1", "d2", "d3"}
	got, err := l.LoadAll(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d1": "Ana", "d2": "Luis", "d3": "Sofia"}, got)

	assert.Equal(t, [][]string{{"d1", "d2"}, {"d3"}}, f.calls())
}

func TestLoad_ConcurrentWaitersShareOneBatch(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch)

	keys := []string{"d1", "d2", "d3", "d1", "d2"}
	thunks := make([]*loader.Thunk[string], len(keys))
	for i, k := range keys {
		thunks[i] = l.Load(k)
	}

	var wg sync.WaitGroup
	for _, th := range thunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, err := th.Get(ctx)
			assert.NoError(t, err)
			assert.True(t, found)
		}()
	}
	wg.Wait()

	assert.Len(t, f.calls(), 1)
}

func TestLoad_InstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFetch()

	requestA := loader.New(ctx, "drivers", f.fetch)
	value, _, err := requestA.Load("d1").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana", value)

	// the upstream value changes between requests
	f.mu.Lock()
	f.data["d1"] = "Ana Maria"
	f.mu.Unlock()

	requestB := loader.New(ctx, "drivers", f.fetch)
	value, _, err = requestB.Load("d1").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", value, "a new loader must fetch again")

	assert.Len(t, f.calls(), 2)
}

func TestLoadAll_ReportsBatchError(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	f.err = errors.New("timeout")
	l := loader.New(ctx, "drivers", f.fetch)

	got, err := l.LoadAll(ctx, []string{"d1", "d2"})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, f.err)
}

func TestLoadAll_IncludesPendingKeys(t *testing.T) {
	ctx := context.Background()
	f := newFetch()
	l := loader.New(ctx, "drivers", f.fetch)

	pending := l.Load("d3")

	got, err := l.LoadAll(ctx, []string{"d1", "missing", "d1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d1": "Ana"}, got)

	value, _, err := pending.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Sofia", value)

	assert.Equal(t, [][]string{{"d3", "d1", "missing"}}, f.calls())
}

func TestGet_HonoursCallerContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	l := loader.New(context.Background(), "drivers", func(context.Context, []string) (map[string]string, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := l.Load("d1").Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
