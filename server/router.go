package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/.well-known/jwks.json", a.handleJWKS)
	r.Get("/healthz", a.handleHealthz)

	r.Post("/login", a.handleLogin)
	r.Post("/token", a.handleToken)
	r.Post("/revoke", a.handleRevoke)
	r.Post("/introspect", a.handleIntrospect)

	r.Get("/login/providers", a.handleProviders)
	r.Post("/admin/providers/rebuild", a.handleProvidersRebuild)

	r.Post("/risk/assess", a.handleRiskAssess)

	return r
}
