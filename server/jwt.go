package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims is the JWT shape of a minted access token.
type AccessTokenClaims struct {
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTBuilder encodes access-token tickets as signed JWTs and decodes them
// back. The ticket id travels as the jti claim.
type JWTBuilder struct {
	issuer string
	jwks   *JWKSManager
}

// NewJWTBuilder wires the builder to the signing keys.
func NewJWTBuilder(cfg Config, jwks *JWKSManager) *JWTBuilder {
	return &JWTBuilder{
		issuer: strings.TrimSuffix(cfg.Server.PublicURL, "/"),
		jwks:   jwks,
	}
}

// Encode signs the ticket's claims.
func (b *JWTBuilder) Encode(t *Ticket) (string, error) {
	if t.Kind != KindAccessToken {
		return "", fmt.Errorf("cannot encode %s ticket as an access token", t.Kind)
	}
	expires := t.CreatedAt.Add(t.Policy.MaxTimeToLive)
	claims := AccessTokenClaims{
		Scope:    strings.Join(t.Scopes, " "),
		ClientID: t.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.ID,
			Issuer:    b.issuer,
			Subject:   t.Authentication.Principal.ID,
			Audience:  jwt.ClaimStrings{t.Service},
			IssuedAt:  jwt.NewNumericDate(t.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, _, err := b.jwks.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign access token %s: %w", t.ID, err)
	}
	return signed, nil
}

// Decode parses and validates a signed access token.
func (b *JWTBuilder) Decode(raw string) (*AccessTokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	tok, err := jwt.ParseWithClaims(raw, &AccessTokenClaims{}, b.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*AccessTokenClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Issuer != b.issuer {
		return nil, errors.New("invalid issuer")
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("token expired")
	}
	return claims, nil
}
