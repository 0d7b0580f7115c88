package ws

import (
	"sync"

	"skillbay.org/internal/obs"
)

// Registry maps authenticated user IDs to their single live connection.
// A user opening a second connection displaces the first; the newest
// connection wins.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register binds userID to c, returning the displaced connection if one was
// registered. The caller closes the displaced connection outside the lock.
func (r *Registry) Register(userID string, c *Conn) (displaced *Conn) {
	r.mu.Lock()
	displaced = r.conns[userID]
	r.conns[userID] = c
	n := len(r.conns)
	r.mu.Unlock()
	obs.SetWSConnections(n)
	return displaced
}

// Unregister removes the binding for userID only if c is still the mapped
// connection. A stale close from a displaced connection must not evict its
// successor. Idempotent.
func (r *Registry) Unregister(userID string, c *Conn) {
	r.mu.Lock()
	if r.conns[userID] == c {
		delete(r.conns, userID)
	}
	n := len(r.conns)
	r.mu.Unlock()
	obs.SetWSConnections(n)
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Snapshot returns the current bindings. The map is a copy; the connections
// are shared.
func (r *Registry) Snapshot() map[string]*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Conn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}
	return out
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
