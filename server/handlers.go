package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config       Config
	Logger       *slog.Logger
	JWKS         *JWKSManager
	JWT          *JWTBuilder
	Services     *ServiceRegistry
	Tracker      *DescendantTracker
	Registry     *TicketRegistry
	AccessTokens *AccessTokenFactory
	RootTickets  *TicketGrantingTicketFactory
	Providers    *DelegatedIdentityProviderRegistry
	Risk         *RiskContingencyDispatcher
}

// AppOptions carries the pluggable collaborators a deployment may register.
type AppOptions struct {
	Customizers []DelegatedClientCustomizer
	Builders    []ConfigurableDelegatedClientBuilder
	IDGenerator UniqueTicketIDGenerator
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	return NewAppWithOptions(ctx, cfg, logger, AppOptions{})
}

// NewAppWithOptions is the composition root with explicit collaborators.
func NewAppWithOptions(ctx context.Context, cfg Config, logger *slog.Logger, opts AppOptions) (*App, error) {
	jwks, err := NewJWKSManager(cfg.Keys, logger)
	if err != nil {
		return nil, fmt.Errorf("init jwks: %w", err)
	}

	services, err := NewServiceRegistry(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("init services: %w", err)
	}

	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = UUIDTicketIDGenerator{}
	}

	tracker := NewDescendantTracker()
	registry := NewTicketRegistry(tracker, logger)
	accessTokens := NewAccessTokenFactory(idGen, cfg.AccessTokenPolicyBuilder(), services, tracker, logger)
	rootTickets := NewTicketGrantingTicketFactory(idGen, cfg.TicketGrantingPolicyBuilder(), logger)

	var tlsConfig *tls.Config
	if cfg.Server.TLS.InsecureSkipVerify {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
	providers := NewDelegatedIdentityProviderRegistry(cfg, tlsConfig, opts.Customizers, opts.Builders, logger)

	risk := NewRiskContingencyDispatcher(ContingencyPlanFromConfig(cfg.Risk), logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		JWKS:         jwks,
		JWT:          NewJWTBuilder(cfg, jwks),
		Services:     services,
		Tracker:      tracker,
		Registry:     registry,
		AccessTokens: accessTokens,
		RootTickets:  rootTickets,
		Providers:    providers,
		Risk:         risk,
	}, nil
}

// WarmProviders eagerly builds the delegated provider collection. Used at
// startup when lazy-init is disabled.
func (a *App) WarmProviders(ctx context.Context) error {
	_, err := a.Providers.Build(ctx)
	return err
}

type loginRequest struct {
	Principal  string         `json:"principal"`
	Attributes map[string]any `json:"attributes,omitempty"`
	IDP        string         `json:"idp,omitempty"`
}

// handleLogin mints a ticket-granting ticket for an authentication event
// established upstream. Credential validation itself lives outside this
// core.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Principal == "" {
		httpError(w, http.StatusBadRequest, "principal required")
		return
	}

	auth := Authentication{
		Principal:  Principal{ID: req.Principal, Attributes: req.Attributes},
		AuthTime:   time.Now(),
		Attributes: map[string]any{"idp": req.IDP},
	}
	tgt, err := a.RootTickets.Create(auth)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.Registry.Add(tgt)

	writeJSON(w, map[string]any{
		"tgt":        tgt.ID,
		"principal":  auth.Principal.ID,
		"expires_in": int64(tgt.Policy.MaxTimeToLive.Seconds()),
	})
}

// TokenResponse matches OAuth token endpoint payloads.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TicketID    string `json:"ticket_id"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// handleToken mints an access token from a live ticket-granting ticket.
func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpError(w, http.StatusBadRequest, "invalid form")
		return
	}

	clientID := r.PostFormValue("client_id")
	svc, err := a.Services.Authenticate(clientID, r.PostFormValue("client_secret"))
	if err != nil {
		httpError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	tgtID := r.PostFormValue("tgt")
	parent, ok := a.Registry.Get(tgtID)
	if !ok || parent.Kind != KindTicketGrantingTicket {
		httpError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	scopes := SplitScopes(r.PostFormValue("scope"))
	if !svc.ValidateScopes(scopes) {
		httpError(w, http.StatusBadRequest, "invalid_scope")
		return
	}

	ticket, err := a.AccessTokens.Create(AccessTokenRequest{
		Service:        svc.ServiceID,
		Authentication: parent.Authentication,
		Parent:         parent,
		Scopes:         scopes,
		ClientID:       clientID,
		ResponseType:   r.PostFormValue("response_type"),
		GrantType:      r.PostFormValue("grant_type"),
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "issuance failed")
		return
	}
	a.Registry.Add(ticket)

	encoded, err := a.JWT.Encode(ticket)
	if err != nil {
		a.Logger.Error("encode access token", "id", ticket.ID, "error", err)
		httpError(w, http.StatusInternalServerError, "issuance failed")
		return
	}

	writeJSON(w, TokenResponse{
		AccessToken: encoded,
		TicketID:    ticket.ID,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ticket.Policy.MaxTimeToLive.Seconds()),
		Scope:       r.PostFormValue("scope"),
	})
}

// handleRevoke revokes a ticket and everything derived from it.
func (a *App) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpError(w, http.StatusBadRequest, "invalid form")
		return
	}
	id := r.PostFormValue("ticket")
	if id == "" {
		httpError(w, http.StatusBadRequest, "ticket required")
		return
	}
	affected := a.Registry.Revoke(id)
	writeJSON(w, map[string]any{"revoked": affected})
}

// handleIntrospect reports whether a ticket is live.
func (a *App) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpError(w, http.StatusBadRequest, "invalid form")
		return
	}
	token := r.PostFormValue("token")

	id := token
	if claims, err := a.JWT.Decode(token); err == nil {
		id = claims.ID
	}

	ticket, ok := a.Registry.Get(id)
	if !ok {
		writeJSON(w, map[string]any{"active": false})
		return
	}
	writeJSON(w, map[string]any{
		"active":    true,
		"ticket_id": ticket.ID,
		"kind":      ticket.Kind,
		"sub":       ticket.Authentication.Principal.ID,
		"client_id": ticket.ClientID,
		"scope":     ticket.Scopes,
		"iat":       ticket.CreatedAt.Unix(),
		"exp":       ticket.CreatedAt.Add(ticket.Policy.MaxTimeToLive).Unix(),
	})
}

// handleProviders serves the delegated login options.
func (a *App) handleProviders(w http.ResponseWriter, r *http.Request) {
	clients, err := a.Providers.Build(r.Context())
	if err != nil {
		a.Logger.Error("build delegated providers", "error", err)
		httpError(w, http.StatusInternalServerError, "provider build failed")
		return
	}
	writeJSON(w, map[string]any{"providers": descriptorViews(clients)})
}

// handleProvidersRebuild forces a fresh provider load.
func (a *App) handleProvidersRebuild(w http.ResponseWriter, r *http.Request) {
	clients, err := a.Providers.Rebuild(r.Context())
	if err != nil {
		a.Logger.Error("rebuild delegated providers", "error", err)
		httpError(w, http.StatusInternalServerError, "provider rebuild failed")
		return
	}
	writeJSON(w, map[string]any{"providers": descriptorViews(clients)})
}

type riskAssessRequest struct {
	Principal string  `json:"principal"`
	ClientID  string  `json:"client_id"`
	Score     float64 `json:"score"`
}

// handleRiskAssess runs the configured contingency plan against a risk
// score computed upstream.
func (a *App) handleRiskAssess(w http.ResponseWriter, r *http.Request) {
	var req riskAssessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Principal == "" {
		httpError(w, http.StatusBadRequest, "principal required")
		return
	}

	svc, _ := a.Services.FindByClientID(req.ClientID)
	auth := Authentication{Principal: Principal{ID: req.Principal}, AuthTime: time.Now()}
	score := RiskScore{Score: req.Score, Threshold: a.Config.Risk.Threshold}

	resp, err := a.Risk.Execute(r.Context(), auth, svc, score, r)
	if err != nil {
		a.Logger.Error("risk contingency", "principal", req.Principal, "error", err)
		httpError(w, http.StatusInternalServerError, "contingency failed")
		return
	}
	if resp == nil {
		resp = &ContingencyResponse{Result: "none"}
	}
	writeJSON(w, resp)
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.JWKS.PublicJWKS())
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
