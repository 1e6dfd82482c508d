// Package client validates access tokens minted by an ssod server from a
// relying party's side of the wire: JWT verification against the server's
// published JWKS, scope checks, and online introspection for revocation.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ValidatorConfig configures a TicketValidator.
type ValidatorConfig struct {
	// Issuer is the server's public URL; tokens from any other issuer are
	// rejected.
	Issuer string
	// JWKSURL points at the server's /.well-known/jwks.json endpoint.
	JWKSURL string
	// ExpectedAudiences restricts accepted tokens to these service ids.
	// Empty means any audience.
	ExpectedAudiences []string
	// IntrospectionURL points at the server's /introspect endpoint. Optional;
	// required only for Active.
	IntrospectionURL string
	// CacheTTL bounds how long a fetched key set is reused. Defaults to
	// five minutes.
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// TicketClaims is the validated view of an access token. TicketID is the
// server-side ticket identifier carried in the jti claim; it is what revoke
// and introspect operate on.
type TicketClaims struct {
	TicketID  string
	Subject   string
	Issuer    string
	Audiences []string
	Scopes    []string
	ClientID  string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       map[string]any
}

// TicketValidator verifies server-signed access tokens offline and, when
// configured, checks liveness online. Safe for concurrent use.
type TicketValidator struct {
	cfg    ValidatorConfig
	client *http.Client

	mu      sync.RWMutex
	keys    jose.JSONWebKeySet
	expires time.Time
}

// NewTicketValidator creates a validator with defaults applied.
func NewTicketValidator(cfg ValidatorConfig) *TicketValidator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &TicketValidator{cfg: cfg, client: cfg.HTTPClient}
}

// Validate verifies the token signature and claims. Revoked tickets still
// pass offline validation until they expire; call Active for a liveness
// check.
func (v *TicketValidator) Validate(ctx context.Context, rawToken string) (*TicketClaims, error) {
	if rawToken == "" {
		return nil, errors.New("token required")
	}

	keys, err := v.keySet(ctx, false)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)

	claims := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if key := keyForKid(keys, kid); key != nil {
			return key.Key, nil
		}
		// Unknown kid usually means the server rotated; refetch once.
		refreshed, err := v.keySet(ctx, true)
		if err != nil {
			return nil, err
		}
		if key := keyForKid(refreshed, kid); key != nil {
			return key.Key, nil
		}
		return nil, fmt.Errorf("signing key %q not found", kid)
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("token invalid")
	}
	return v.ticketClaims(claims)
}

// HasScopes ensures the claims carry every required scope.
func (v *TicketValidator) HasScopes(claims *TicketClaims, required ...string) error {
	have := make(map[string]struct{}, len(claims.Scopes))
	for _, sc := range claims.Scopes {
		have[sc] = struct{}{}
	}
	for _, need := range required {
		if _, ok := have[need]; !ok {
			return fmt.Errorf("missing scope %s", need)
		}
	}
	return nil
}

// Active introspects the token against the server. A revoked or expired
// ticket reports false even when the JWT itself still verifies.
func (v *TicketValidator) Active(ctx context.Context, token string) (bool, error) {
	if v.cfg.IntrospectionURL == "" {
		return false, errors.New("introspection url not configured")
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("introspection failed: %s", resp.Status)
	}

	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Active, nil
}

// RequireAuth is chi-compatible middleware validating the bearer token and
// attaching its claims to the request context.
func RequireAuth(v *TicketValidator, requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := v.Validate(r.Context(), parts[1])
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := v.HasScopes(claims, requiredScopes...); err != nil {
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// ClaimsFromContext retrieves claims attached by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*TicketClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*TicketClaims)
	return claims, ok
}

type claimsKey struct{}

// keySet returns the cached key set, fetching when the cache is cold,
// stale, or a refresh is forced.
func (v *TicketValidator) keySet(ctx context.Context, force bool) (jose.JSONWebKeySet, error) {
	v.mu.RLock()
	keys, expires := v.keys, v.expires
	v.mu.RUnlock()

	if !force && keys.Keys != nil && time.Now().Before(expires) {
		return keys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks fetch failed: %s", resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, err
	}

	v.mu.Lock()
	v.keys = set
	v.expires = time.Now().Add(v.cfg.CacheTTL)
	v.mu.Unlock()
	return set, nil
}

func (v *TicketValidator) ticketClaims(mc jwt.MapClaims) (*TicketClaims, error) {
	raw := make(map[string]any, len(mc))
	for k, val := range mc {
		raw[k] = val
	}

	iss, _ := mc["iss"].(string)
	if v.cfg.Issuer != "" && iss != v.cfg.Issuer {
		return nil, errors.New("issuer mismatch")
	}

	sub, _ := mc["sub"].(string)
	if sub == "" {
		return nil, errors.New("sub missing")
	}

	ticketID, _ := mc["jti"].(string)
	if ticketID == "" {
		return nil, errors.New("jti missing")
	}

	audiences := normalizeAudience(mc["aud"])
	if len(v.cfg.ExpectedAudiences) > 0 && !audienceAllowed(audiences, v.cfg.ExpectedAudiences) {
		return nil, errors.New("audience rejected")
	}

	scopeStr, _ := mc["scope"].(string)
	clientID, _ := mc["client_id"].(string)

	return &TicketClaims{
		TicketID:  ticketID,
		Subject:   sub,
		Issuer:    iss,
		Audiences: audiences,
		Scopes:    strings.Fields(scopeStr),
		ClientID:  clientID,
		ExpiresAt: parseUnix(mc["exp"]),
		IssuedAt:  parseUnix(mc["iat"]),
		Raw:       raw,
	}, nil
}

func keyForKid(set jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	for _, k := range set.Keys {
		if kid == "" || k.KeyID == kid {
			key := k
			return &key
		}
	}
	return nil
}

func audienceAllowed(aud, expected []string) bool {
	for _, a := range aud {
		for _, want := range expected {
			if a == want {
				return true
			}
		}
	}
	return false
}

func normalizeAudience(val any) []string {
	switch v := val.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		res := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				res = append(res, s)
			}
		}
		return res
	case []string:
		return v
	default:
		return nil
	}
}

func parseUnix(val any) time.Time {
	switch v := val.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		i, _ := v.Int64()
		return time.Unix(i, 0)
	case int64:
		return time.Unix(v, 0)
	default:
		return time.Time{}
	}
}
