package server

import (
	"testing"
	"time"
)

func TestDirectCredentialIDDelegatesToPrincipal(t *testing.T) {
	cred := NewDirectCredential(testAuthentication("casuser"))
	if got := cred.ID(); got != "casuser" {
		t.Fatalf("ID() = %q, want casuser", got)
	}
}

func TestDirectCredentialStructuralEquality(t *testing.T) {
	authTime := time.Unix(1700000000, 0)
	auth := Authentication{
		Principal: Principal{ID: "casuser", Attributes: map[string]any{"email": "casuser@example.org"}},
		AuthTime:  authTime,
	}
	same := Authentication{
		Principal: Principal{ID: "casuser", Attributes: map[string]any{"email": "casuser@example.org"}},
		AuthTime:  authTime,
	}
	other := Authentication{
		Principal: Principal{ID: "someone-else"},
		AuthTime:  authTime,
	}

	a := NewDirectCredential(auth)
	b := NewDirectCredential(same)
	c := NewDirectCredential(other)

	if !a.Equal(b) {
		t.Fatalf("credentials wrapping equal authentications must be equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("equal credentials must hash identically: %d vs %d", a.Hash(), b.Hash())
	}
	if a.Equal(c) {
		t.Fatalf("credentials wrapping different authentications must differ")
	}
	if a.Hash() == c.Hash() {
		t.Fatalf("expected different hashes for different authentications")
	}
}
