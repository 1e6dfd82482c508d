package server

import "sync"

// TicketTrackingPolicy records parent→child ticket derivation so the
// registry can cascade lifecycle changes down the graph. Implementations
// must tolerate a nil parent (no-op) and be idempotent for duplicate
// (parent, child) pairs. Safe for concurrent use.
type TicketTrackingPolicy interface {
	Track(parent, child *Ticket)
}

// NopTrackingPolicy tracks nothing.
type NopTrackingPolicy struct{}

// Track implements TicketTrackingPolicy.
func (NopTrackingPolicy) Track(parent, child *Ticket) {}

// DescendantTracker keeps the derivation graph in memory. Each root ticket
// anchors a tree; edges are stored as parent id → set of child ids.
type DescendantTracker struct {
	mu       sync.RWMutex
	children map[string]map[string]struct{}
}

// NewDescendantTracker constructs an empty tracker.
func NewDescendantTracker() *DescendantTracker {
	return &DescendantTracker{children: make(map[string]map[string]struct{})}
}

// Track records that child was derived from parent.
func (dt *DescendantTracker) Track(parent, child *Ticket) {
	if parent == nil || child == nil {
		return
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	set, ok := dt.children[parent.ID]
	if !ok {
		set = make(map[string]struct{})
		dt.children[parent.ID] = set
	}
	set[child.ID] = struct{}{}
}

// Descendants returns every ticket id transitively derived from the given
// id, in breadth-first order.
func (dt *DescendantTracker) Descendants(id string) []string {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	var out []string
	seen := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for child := range dt.children[next] {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// Forget drops all edges rooted at the given id. Called when the registry
// evicts a ticket.
func (dt *DescendantTracker) Forget(id string) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	delete(dt.children, id)
}

// Count reports the number of direct children recorded for a ticket.
func (dt *DescendantTracker) Count(id string) int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return len(dt.children[id])
}
