// Package presence tracks which users are online and the connection handle
// each one is currently reachable on. At most one handle is kept per user;
// a newer identify replaces the older one.
package presence

import (
	"sort"
	"sync"
)

// Registry maps user ids to their current connection handle. It is safe
// for concurrent use.
type Registry[H comparable] struct {
	mu      sync.RWMutex
	handles map[string]H
}

func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{handles: make(map[string]H)}
}

// SetOnline records h as the handle for userID, replacing any previous one.
// It returns the replaced handle, if any.
func (r *Registry[H]) SetOnline(userID string, h H) (previous H, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, replaced = r.handles[userID]
	r.handles[userID] = h
	return previous, replaced
}

// GetHandle returns the current handle for userID.
func (r *Registry[H]) GetHandle(userID string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[userID]
	return h, ok
}

// RemoveIfCurrent deletes userID only while h is still its registered
// handle. A stale connection closing after its user reconnected elsewhere
// leaves the newer entry alone.
func (r *Registry[H]) RemoveIfCurrent(userID string, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.handles[userID]; ok && current == h {
		delete(r.handles, userID)
		return true
	}
	return false
}

// ListOnlineUserIDs returns the online user ids in sorted order.
func (r *Registry[H]) ListOnlineUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
