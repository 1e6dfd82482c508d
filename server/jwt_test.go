package server

import (
	"strings"
	"testing"
	"time"
)

func newTestJWTBuilder(t *testing.T) *JWTBuilder {
	t.Helper()
	jwks, err := NewJWKSManager(KeyConfig{}, testLogger())
	if err != nil {
		t.Fatalf("NewJWKSManager: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "https://sso.example.org"
	return NewJWTBuilder(cfg, jwks)
}

func TestJWTEncodeDecodeRoundTrip(t *testing.T) {
	builder := newTestJWTBuilder(t)
	ticket := &Ticket{
		ID:             "AT-round-trip",
		Kind:           KindAccessToken,
		Service:        "https://app.example.org",
		Authentication: testAuthentication("casuser"),
		Policy:         defaultTestPolicy(),
		Scopes:         []string{"read", "write"},
		ClientID:       "web",
		CreatedAt:      time.Now(),
	}

	raw, err := builder.Encode(ticket)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	claims, err := builder.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.ID != "AT-round-trip" {
		t.Fatalf("jti = %q", claims.ID)
	}
	if claims.Subject != "casuser" {
		t.Fatalf("sub = %q", claims.Subject)
	}
	if claims.Scope != "read write" {
		t.Fatalf("scope = %q", claims.Scope)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "https://app.example.org" {
		t.Fatalf("aud = %v", claims.Audience)
	}
}

func TestJWTEncodeRejectsNonAccessTokens(t *testing.T) {
	builder := newTestJWTBuilder(t)
	if _, err := builder.Encode(rootTicket("TGT-1")); err == nil {
		t.Fatalf("expected TGT encode to fail")
	}
}

func TestJWTDecodeRejectsForeignIssuer(t *testing.T) {
	builder := newTestJWTBuilder(t)
	ticket := &Ticket{
		ID:             "AT-foreign",
		Kind:           KindAccessToken,
		Authentication: testAuthentication("casuser"),
		Policy:         defaultTestPolicy(),
		CreatedAt:      time.Now(),
	}
	raw, err := builder.Encode(ticket)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	other := newTestJWTBuilder(t)
	if _, err := other.Decode(raw); err == nil {
		t.Fatalf("expected token signed by a different key set to fail")
	}
}

func TestJWTDecodeRejectsGarbage(t *testing.T) {
	builder := newTestJWTBuilder(t)
	if _, err := builder.Decode(strings.Repeat("x", 32)); err == nil {
		t.Fatalf("expected garbage token to fail")
	}
}
