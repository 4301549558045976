package breaker

import (
	"sync"
)

// Registry owns one circuit breaker per protected resource. It is constructed
// once at the composition root and injected into call sites; there are no
// package-level breaker instances.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  Config
	listeners []Listener
}

// NewRegistry creates a registry. defaults.Resource is ignored; each breaker
// is created with its own resource name. Listeners are attached to every
// breaker the registry creates.
func NewRegistry(defaults Config, listeners ...Listener) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults,
		listeners: listeners,
	}
}

// Get returns the breaker for a resource, creating it on first use
func (r *Registry) Get(resource string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[resource]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[resource]; ok {
		return cb
	}

	cfg := r.defaults
	cfg.Resource = resource
	cb = New(cfg)
	for _, l := range r.listeners {
		cb.AddListener(l)
	}
	r.breakers[resource] = cb
	return cb
}

// Snapshots returns a read-only snapshot of every registered breaker
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make(map[string]Snapshot, len(r.breakers))
	for resource, cb := range r.breakers {
		snapshots[resource] = cb.State()
	}
	return snapshots
}

// Reset resets a single breaker; it reports whether the resource was known
func (r *Registry) Reset(resource string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[resource]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}
