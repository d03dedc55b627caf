// Package registry is the source of truth for live connections:
// identity, tenant and subscription set. All mutation goes through its
// lock; callers never hold it while touching another structure.
package registry

import (
	"sync"
)

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Remove deletes the registry entry and returns it, or nil if the id is
// unknown. Subscription and presence cleanup happen before this call;
// see gateway.Server.removeConnection for the ordering.
func (r *Registry) Remove(id string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	return c
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// ForEachInTenant calls fn for every connection in the tenant. fn runs
// on a snapshot, outside the registry lock, so it may call Send freely.
func (r *Registry) ForEachInTenant(tenantID string, fn func(*Conn)) {
	r.mu.RLock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.TenantID == tenantID {
			snapshot = append(snapshot, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserHasOtherConns reports whether the user has another live
// connection in the tenant besides exceptID. Presence entries are only
// removed when this turns false.
func (r *Registry) UserHasOtherConns(userID, tenantID, exceptID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.ID != exceptID && c.UserID == userID && c.TenantID == tenantID {
			return true
		}
	}
	return false
}
