// Package registry implements the concurrent node registry: a
// single-writer, many-reader map from node id to Node.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/lbproxy/lbproxy/internal/node"
)

// Registry is safe for concurrent use. Reads never block other reads;
// writes (Save, Delete) serialize against each other and against
// reads, but never expose a partially-updated Node because Node is
// always stored and retrieved by value.
type Registry struct {
	mu    sync.RWMutex
	nodes map[node.ID]node.Node
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[node.ID]node.Node)}
}

// Save upserts a node by id, atomically replacing any existing record
// for the same id.
func (r *Registry) Save(n node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID] = n
}

// FindByID returns the current snapshot of a node, if present.
func (r *Registry) FindByID(id node.ID) (node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// FindAll returns an immutable snapshot of every registered node. Order
// is unspecified but stable within this one call.
func (r *Registry) FindAll() []node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// FindAvailable returns the snapshot of nodes whose status is usable,
// observed atomically enough that no node is duplicated or lost
// relative to the same underlying snapshot. The result is ordered by
// node id, so the order is the same from call to call while the set of
// usable nodes is unchanged.
func (r *Registry) FindAvailable() []node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.Status.IsUsable() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a node by id, reporting whether it was present.
func (r *Registry) Delete(id node.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; !ok {
		return false
	}
	delete(r.nodes, id)
	return true
}

// Exists reports whether a node with the given id is registered.
func (r *Registry) Exists(id node.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// UpdateHealthStatus sets a node's status, stamping LastTransitionAt
// and returning a HealthChangedEvent iff the status actually changed.
// The node must already exist; callers (the prober) are expected to
// snapshot ids from FindAll before calling this.
func (r *Registry) UpdateHealthStatus(id node.ID, newStatus node.Status, reason string, now time.Time) (node.HealthChangedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return node.HealthChangedEvent{}, false
	}
	if n.Status == newStatus {
		return node.HealthChangedEvent{}, false
	}

	prev := n.Status
	n.Status = newStatus
	n.LastTransitionAt = now
	r.nodes[id] = n

	return node.HealthChangedEvent{
		NodeID:     id,
		PrevStatus: prev,
		NewStatus:  newStatus,
		Reason:     reason,
		OccurredAt: now,
	}, true
}

// FindBySource returns a snapshot of nodes admitted through the given
// source, used by discovery to reconcile only its own nodes.
func (r *Registry) FindBySource(src node.Source) []node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]node.Node, 0)
	for _, n := range r.nodes {
		if n.Source == src {
			out = append(out, n)
		}
	}
	return out
}
