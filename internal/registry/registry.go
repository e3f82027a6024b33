// Package registry tracks the live map instances that can receive camera
// commands.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/incinerator-map/internal/geo"
)

// Handle is a live map that can be moved to a new view.
type Handle interface {
	FlyTo(ctx context.Context, bounds geo.BBox, zoom int) error
}

// Registry maps string keys to map handles. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register stores h under key, replacing any existing handle.
func (r *Registry) Register(key string, h Handle) {
	r.mu.Lock()
	r.handles[key] = h
	r.mu.Unlock()
}

// Unregister removes key. Removing an absent key is a no-op.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	delete(r.handles, key)
	r.mu.Unlock()
}

// Get returns the handle stored under key.
func (r *Registry) Get(key string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	return h, ok
}

// GetFirst returns the handle with the lowest key.
func (r *Registry) GetFirst() (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.handles) == 0 {
		return nil, false
	}
	first := ""
	found := false
	for k := range r.handles {
		if !found || k < first {
			first, found = k, true
		}
	}
	return r.handles[first], true
}

// ForEach calls fn for every registered handle in key order. It iterates a
// snapshot, so fn may register or unregister handles.
func (r *Registry) ForEach(fn func(key string, h Handle)) {
	type entry struct {
		key string
		h   Handle
	}
	r.mu.RLock()
	snapshot := make([]entry, 0, len(r.handles))
	for k, h := range r.handles {
		snapshot = append(snapshot, entry{k, h})
	}
	r.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].key < snapshot[j].key })
	for _, e := range snapshot {
		fn(e.key, e.h)
	}
}

// Count returns the number of registered handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
