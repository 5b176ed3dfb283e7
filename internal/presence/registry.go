package presence

import (
	"sync"

	"perepiska/internal/models"

	"github.com/samber/lo"
)

// Handle is one live duplex channel to a client. Deliver must not block
// the caller: implementations queue or drop.
type Handle interface {
	ID() string
	Deliver(ev models.ServerEvent) error
}

// Registry maps identities to their live connection handles. It is the
// single shared mutable structure in the messaging core: all mutation
// goes through Register and Unregister, all reads through Lookup.
//
// The registry is advisory. An absent identity means "not known to be
// reachable right now", never "user does not exist".
type Registry struct {
	mu sync.RWMutex

	// identity -> connection ID -> handle
	sessions map[string]map[string]Handle

	// connection ID -> identity; a connection ID belongs to at most
	// one identity's set at any time.
	owners map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]Handle),
		owners:   make(map[string]string),
	}
}

// Register adds the handle to the identity's set, creating the set if
// absent. The identity becomes immediately routable. A handle already
// registered under another identity is moved, keeping the one-owner
// invariant.
func (r *Registry) Register(identity string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.ID()
	if prev, ok := r.owners[id]; ok {
		r.removeLocked(prev, id)
	}

	set, ok := r.sessions[identity]
	if !ok {
		set = make(map[string]Handle)
		r.sessions[identity] = set
	}
	set[id] = h
	r.owners[id] = identity
}

// Unregister removes the handle from whichever identity's set contains
// it. Idempotent: duplicate disconnect signals are a no-op.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.ID()
	identity, ok := r.owners[id]
	if !ok {
		return
	}
	r.removeLocked(identity, id)
}

func (r *Registry) removeLocked(identity, connID string) {
	delete(r.owners, connID)
	set, ok := r.sessions[identity]
	if !ok {
		return
	}
	delete(set, connID)
	// Empty entries are dropped so the registry stays bounded by the
	// live connection count, not by historical user count.
	if len(set) == 0 {
		delete(r.sessions, identity)
	}
}

// Lookup returns a snapshot of the identity's live handles. Unknown
// identities yield an empty slice, never an error.
func (r *Registry) Lookup(identity string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sessions[identity]
	if !ok {
		return nil
	}
	return lo.Values(set)
}

// Online returns the identities that currently hold at least one live
// connection.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.sessions)
}

// Len returns the number of live connections across all identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
