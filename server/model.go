package server

import "time"

// Principal identifies the authenticated subject along with any attributes
// resolved by the upstream credential store.
type Principal struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Authentication is the root authentication event produced by the login
// pipeline. Every minted ticket carries the authentication that produced it;
// the value is never mutated after creation.
type Authentication struct {
	Principal  Principal      `json:"principal"`
	Attributes map[string]any `json:"attributes,omitempty"`
	AuthTime   time.Time      `json:"auth_time"`
}

// IsZero reports whether the authentication carries no principal.
func (a Authentication) IsZero() bool {
	return a.Principal.ID == ""
}
