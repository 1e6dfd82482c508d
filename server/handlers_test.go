package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "http://sso.local"
	cfg.Services = []ServiceConfig{{
		ServiceID:    "https://app.example.org",
		Name:         "web-app",
		ClientID:     "web",
		ClientSecret: "s3cret",
		Scopes:       []string{"read", "write"},
	}}
	cfg.Risk = RiskConfig{Threshold: 0.7, Plan: "block"}
	cfg.Delegated.CAS = []CASProviderProperties{
		casProps("corporate", "https://cas.example.org/login", true),
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	app, err := NewApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func loginAs(t *testing.T, h http.Handler, principal string) string {
	t.Helper()
	rec := postJSON(t, h, "/login", `{"principal":"`+principal+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("/login status = %d: %s", rec.Code, rec.Body)
	}
	tgt, _ := decodeBody(t, rec)["tgt"].(string)
	if tgt == "" {
		t.Fatalf("login response missing tgt")
	}
	return tgt
}

func TestLoginTokenIntrospectRevokeFlow(t *testing.T) {
	app := newTestApp(t)
	h := app.Routes()

	tgt := loginAs(t, h, "casuser")
	if !strings.HasPrefix(tgt, "TGT-") {
		t.Fatalf("tgt = %q, want TGT- prefix", tgt)
	}

	rec := postForm(t, h, "/token", url.Values{
		"client_id":     {"web"},
		"client_secret": {"s3cret"},
		"tgt":           {tgt},
		"scope":         {"read write"},
		"grant_type":    {"urn:ssod:tgt"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("/token status = %d: %s", rec.Code, rec.Body)
	}
	tokenBody := decodeBody(t, rec)
	accessToken, _ := tokenBody["access_token"].(string)
	ticketID, _ := tokenBody["ticket_id"].(string)
	if accessToken == "" || !strings.HasPrefix(ticketID, "AT-") {
		t.Fatalf("token response = %v", tokenBody)
	}
	if tokenBody["token_type"] != "Bearer" {
		t.Fatalf("token_type = %v", tokenBody["token_type"])
	}

	rec = postForm(t, h, "/introspect", url.Values{"token": {accessToken}})
	intro := decodeBody(t, rec)
	if intro["active"] != true {
		t.Fatalf("introspection = %v, want active", intro)
	}
	if intro["sub"] != "casuser" || intro["ticket_id"] != ticketID {
		t.Fatalf("introspection = %v", intro)
	}

	// Revoking the root ticket cascades to the minted access token.
	rec = postForm(t, h, "/revoke", url.Values{"ticket": {tgt}})
	if got := decodeBody(t, rec)["revoked"]; got != float64(2) {
		t.Fatalf("revoked = %v, want 2", got)
	}

	rec = postForm(t, h, "/introspect", url.Values{"token": {accessToken}})
	if got := decodeBody(t, rec)["active"]; got != false {
		t.Fatalf("access token still active after cascade revoke")
	}
}

func TestTokenRejectsBadClientCredentials(t *testing.T) {
	app := newTestApp(t)
	h := app.Routes()
	tgt := loginAs(t, h, "casuser")

	rec := postForm(t, h, "/token", url.Values{
		"client_id":     {"web"},
		"client_secret": {"wrong"},
		"tgt":           {tgt},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTokenRejectsUnknownGrant(t *testing.T) {
	app := newTestApp(t)
	h := app.Routes()

	rec := postForm(t, h, "/token", url.Values{
		"client_id":     {"web"},
		"client_secret": {"s3cret"},
		"tgt":           {"TGT-missing"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTokenRejectsTicketOfWrongKind(t *testing.T) {
	app := newTestApp(t)
	h := app.Routes()
	tgt := loginAs(t, h, "casuser")

	// Mint an access token, then try to use it as a grant.
	rec := postForm(t, h, "/token", url.Values{
		"client_id":     {"web"},
		"client_secret": {"s3cret"},
		"tgt":           {tgt},
	})
	ticketID, _ := decodeBody(t, rec)["ticket_id"].(string)

	rec = postForm(t, h, "/token", url.Values{
		"client_id":     {"web"},
		"client_secret": {"s3cret"},
		"tgt":           {ticketID},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTokenRejectsUnregisteredScope(t *testing.T) {
	app := newTestApp(t)
	h := app.Routes()
	tgt := loginAs(t, h, "casuser")

	rec := postForm(t, h, "/token", url.Values{
		"client_id":     {"web"},
		"client_secret": {"s3cret"},
		"tgt":           {tgt},
		"scope":         {"admin"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLoginRequiresPrincipal(t *testing.T) {
	app := newTestApp(t)
	rec := postJSON(t, app.Routes(), "/login", `{"attributes":{"email":"x@example.org"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProvidersEndpointListsDescriptors(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/login/providers", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	providers, _ := decodeBody(t, rec)["providers"].([]any)
	if len(providers) != 1 {
		t.Fatalf("providers = %v, want 1 entry", providers)
	}
	entry, _ := providers[0].(map[string]any)
	if entry["name"] != "corporate" || entry["type"] != ClientTypeCAS {
		t.Fatalf("provider entry = %v", entry)
	}
	if entry["callback_url"] != app.Config.Server.LoginURL {
		t.Fatalf("callback_url = %v", entry["callback_url"])
	}
}

func TestProvidersRebuildEndpoint(t *testing.T) {
	app := newTestApp(t)
	h := app.Routes()

	rec := postForm(t, h, "/admin/providers/rebuild", url.Values{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	providers, _ := decodeBody(t, rec)["providers"].([]any)
	if len(providers) != 1 {
		t.Fatalf("providers = %v, want 1 entry", providers)
	}
}

func TestRiskAssessBlocksHighRisk(t *testing.T) {
	app := newTestApp(t)
	h := app.Routes()

	rec := postJSON(t, h, "/risk/assess", `{"principal":"casuser","client_id":"web","score":0.95}`)
	if got := decodeBody(t, rec)["result"]; got != "blocked" {
		t.Fatalf("result = %v, want blocked", got)
	}

	rec = postJSON(t, h, "/risk/assess", `{"principal":"casuser","client_id":"web","score":0.1}`)
	if got := decodeBody(t, rec)["result"]; got != "none" {
		t.Fatalf("result = %v, want none", got)
	}
}

func TestJWKSEndpointServesPublicKeys(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	keys, _ := decodeBody(t, rec)["keys"].([]any)
	if len(keys) == 0 {
		t.Fatalf("jwks response has no keys")
	}
}
