// ABOUTME: Single-slot holder for the active broadcast function
// ABOUTME: Breaks the init-order cycle between the dispatcher and the realtime hub

package broadcast

import "sync"

// Func fans a JSON-serializable payload out to every connected client.
type Func func(payload any)

// Registry holds at most one Func. Set overwrites unconditionally.
type Registry struct {
	mu sync.RWMutex
	fn Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set installs fn, replacing any previous func. Passing nil clears the slot.
func (r *Registry) Set(fn Func) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

// Get returns the current func or nil.
func (r *Registry) Get() Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fn
}

// Publish calls the current func with payload.
// It reports false, without doing anything, when no func is installed.
func (r *Registry) Publish(payload any) bool {
	fn := r.Get()
	if fn == nil {
		return false
	}
	fn(payload)
	return true
}
