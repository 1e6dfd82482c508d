package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ticket kind markers double as id prefixes.
const (
	KindTicketGrantingTicket = "TGT"
	KindServiceTicket        = "ST"
	KindAccessToken          = "AT"
)

// Ticket is an issued security artifact: a root ticket-granting ticket, a
// derived service ticket, or an OAuth-style access token. The variant is
// carried in Kind rather than in a type hierarchy. Tickets are immutable
// after creation except for the Revoked flag, which is owned by the
// TicketRegistry.
type Ticket struct {
	ID             string
	Kind           string
	Service        string
	Authentication Authentication
	Policy         ExpirationPolicy
	ParentID       string
	SourceTokenID  string
	Scopes         []string
	ClientID       string
	Claims         map[string]map[string]any
	ResponseType   string
	GrantType      string
	CreatedAt      time.Time

	// Registry-owned state.
	Revoked  bool
	LastUsed time.Time
}

// Root reports whether the ticket anchors a session (has no parent).
func (t *Ticket) Root() bool {
	return t.ParentID == ""
}

// ExpiredAt applies the attached policy.
func (t *Ticket) ExpiredAt(now time.Time) bool {
	lastUsed := t.LastUsed
	if lastUsed.IsZero() {
		lastUsed = t.CreatedAt
	}
	return t.Policy.ExpiredAt(t.CreatedAt, lastUsed, now)
}

// UniqueTicketIDGenerator supplies collision-resistant ticket identifiers
// namespaced by a kind prefix.
type UniqueTicketIDGenerator interface {
	NewTicketID(prefix string) (string, error)
}

// UUIDTicketIDGenerator issues "<prefix>-<uuid>" identifiers.
type UUIDTicketIDGenerator struct{}

// NewTicketID implements UniqueTicketIDGenerator.
func (UUIDTicketIDGenerator) NewTicketID(prefix string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate ticket id: %w", err)
	}
	return prefix + "-" + id.String(), nil
}
