package loader

import "context"

// Thunk is the pending result of a single Load. It is resolved exactly once,
// when the batch holding its key completes.
type Thunk[V any] struct {
	trigger func()
	done    chan struct{}

	value V
	found bool
	err   error
}

func newThunk[V any](trigger func()) *Thunk[V] {
	return &Thunk[V]{
		trigger: trigger,
		done:    make(chan struct{}),
	}
}

// Get waits for the result, dispatching the thunk's batch first if it is
// still pending. A key the batch function did not return yields the zero
// value with found set to false and no error.
func (t *Thunk[V]) Get(ctx context.Context) (value V, found bool, err error) {
	t.trigger()

	select {
	case <-t.done:
		return t.value, t.found, t.err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

func (t *Thunk[V]) resolve(value V, found bool, err error) {
	t.value = value
	t.found = found
	t.err = err
	close(t.done)
}
