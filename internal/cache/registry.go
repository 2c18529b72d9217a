package cache

import "sync"

// Reporter is implemented by every cache that can report its metrics.
type Reporter interface {
	Name() string
	Metrics() Metrics
}

// Registry collects the named caches of the process so their metrics can be
// reported together.
type Registry struct {
	mu    sync.RWMutex
	order []string
	items map[string]Reporter
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Reporter)}
}

// Register adds a cache, replacing any earlier cache of the same name.
func (r *Registry) Register(c Reporter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[c.Name()]; !exists {
		r.order = append(r.order, c.Name())
	}
	r.items[c.Name()] = c
}

// Snapshot returns the current metrics of every registered cache, keyed by
// cache name.
func (r *Registry) Snapshot() map[string]Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Metrics, len(r.items))
	for _, name := range r.order {
		out[name] = r.items[name].Metrics()
	}
	return out
}

// Names lists the registered caches in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}
