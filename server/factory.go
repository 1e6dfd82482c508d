package server

import (
	"errors"
	"log/slog"
	"time"
)

// AccessTokenRequest carries the inputs for minting an access token.
type AccessTokenRequest struct {
	Service        string
	Authentication Authentication
	Parent         *Ticket
	Scopes         []string
	SourceTokenID  string
	ClientID       string
	Claims         map[string]map[string]any
	ResponseType   string
	GrantType      string
}

// AccessTokenFactory mints access tokens from an authentication event. The
// factory is stateless with respect to shared mutable state; it registers
// the parent→child edge with the tracking policy but does not persist the
// ticket (that is the registry's job).
type AccessTokenFactory struct {
	idGenerator   UniqueTicketIDGenerator
	defaultPolicy ExpirationPolicyBuilder
	services      *ServiceRegistry
	tracking      TicketTrackingPolicy
	logger        *slog.Logger
}

// NewAccessTokenFactory wires the factory's collaborators.
func NewAccessTokenFactory(idGen UniqueTicketIDGenerator, def ExpirationPolicyBuilder,
	services *ServiceRegistry, tracking TicketTrackingPolicy, logger *slog.Logger) *AccessTokenFactory {
	return &AccessTokenFactory{
		idGenerator:   idGen,
		defaultPolicy: def,
		services:      services,
		tracking:      tracking,
		logger:        logger,
	}
}

// Create mints a new access token. An unknown client id falls back to the
// default expiration policy; a missing authentication is fatal to this call
// and no tracking edge is recorded.
func (f *AccessTokenFactory) Create(req AccessTokenRequest) (*Ticket, error) {
	if req.Authentication.IsZero() {
		return nil, errors.New("authentication with a principal is required to mint an access token")
	}

	svc, _ := f.services.FindByClientID(req.ClientID)
	policy := ResolveExpirationPolicy(svc, f.defaultPolicy)

	id, err := f.idGenerator.NewTicketID(KindAccessToken)
	if err != nil {
		return nil, err
	}

	ticket := &Ticket{
		ID:             id,
		Kind:           KindAccessToken,
		Service:        req.Service,
		Authentication: req.Authentication,
		Policy:         policy,
		Scopes:         req.Scopes,
		SourceTokenID:  req.SourceTokenID,
		ClientID:       req.ClientID,
		Claims:         req.Claims,
		ResponseType:   req.ResponseType,
		GrantType:      req.GrantType,
		CreatedAt:      time.Now(),
	}
	if req.Parent != nil {
		ticket.ParentID = req.Parent.ID
	}

	f.tracking.Track(req.Parent, ticket)
	f.logger.Debug("minted access token", "id", ticket.ID, "client_id", req.ClientID, "parent", ticket.ParentID)
	return ticket, nil
}

// TicketGrantingTicketFactory mints root tickets anchoring a session.
type TicketGrantingTicketFactory struct {
	idGenerator   UniqueTicketIDGenerator
	defaultPolicy ExpirationPolicyBuilder
	logger        *slog.Logger
}

// NewTicketGrantingTicketFactory wires the root-ticket factory.
func NewTicketGrantingTicketFactory(idGen UniqueTicketIDGenerator, def ExpirationPolicyBuilder, logger *slog.Logger) *TicketGrantingTicketFactory {
	return &TicketGrantingTicketFactory{idGenerator: idGen, defaultPolicy: def, logger: logger}
}

// Create mints a ticket-granting ticket for the authentication event.
func (f *TicketGrantingTicketFactory) Create(auth Authentication) (*Ticket, error) {
	if auth.IsZero() {
		return nil, errors.New("authentication with a principal is required to mint a ticket-granting ticket")
	}
	id, err := f.idGenerator.NewTicketID(KindTicketGrantingTicket)
	if err != nil {
		return nil, err
	}
	ticket := &Ticket{
		ID:             id,
		Kind:           KindTicketGrantingTicket,
		Authentication: auth,
		Policy:         f.defaultPolicy(),
		CreatedAt:      time.Now(),
	}
	f.logger.Debug("minted ticket-granting ticket", "id", ticket.ID, "principal", auth.Principal.ID)
	return ticket, nil
}
