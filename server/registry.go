package server

import (
	"log/slog"
	"sync"
	"time"
)

// TicketRegistry is the in-memory store for issued tickets. Revocation of a
// root ticket cascades to every descendant recorded by the tracker; the
// tracker records edges, the registry enforces them.
type TicketRegistry struct {
	mu      sync.RWMutex
	tickets map[string]*Ticket
	tracker *DescendantTracker
	logger  *slog.Logger
}

// NewTicketRegistry constructs the registry around a tracker.
func NewTicketRegistry(tracker *DescendantTracker, logger *slog.Logger) *TicketRegistry {
	return &TicketRegistry{
		tickets: make(map[string]*Ticket),
		tracker: tracker,
		logger:  logger,
	}
}

// Add stores a ticket.
func (tr *TicketRegistry) Add(t *Ticket) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tickets[t.ID] = t
}

// Get returns a live ticket. Revoked or expired tickets are not returned;
// expired tickets are evicted on read.
func (tr *TicketRegistry) Get(id string) (*Ticket, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t, ok := tr.tickets[id]
	if !ok || t.Revoked {
		return nil, false
	}
	now := time.Now()
	if t.ExpiredAt(now) {
		delete(tr.tickets, id)
		return nil, false
	}
	t.LastUsed = now
	return t, true
}

// Revoke marks the ticket and all tracked descendants revoked. Returns the
// number of tickets affected.
func (tr *TicketRegistry) Revoke(id string) int {
	ids := append([]string{id}, tr.tracker.Descendants(id)...)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	affected := 0
	for _, tid := range ids {
		if t, ok := tr.tickets[tid]; ok && !t.Revoked {
			t.Revoked = true
			affected++
		}
	}
	tr.logger.Info("revoked ticket tree", "root", id, "affected", affected)
	return affected
}

// Delete evicts a ticket and forgets its outgoing edges.
func (tr *TicketRegistry) Delete(id string) {
	tr.mu.Lock()
	delete(tr.tickets, id)
	tr.mu.Unlock()
	tr.tracker.Forget(id)
}

// Count reports the number of stored tickets, revoked included.
func (tr *TicketRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tickets)
}
