package server

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
)

// DirectCredential wraps an already-established authentication result so it
// can re-enter the authentication pipeline as an opaque credential, as
// out-of-band second-factor flows require. It has no identity of its own:
// id, equality, and hash all derive from the wrapped authentication.
type DirectCredential struct {
	Authentication Authentication
}

// NewDirectCredential wraps the authentication.
func NewDirectCredential(auth Authentication) DirectCredential {
	return DirectCredential{Authentication: auth}
}

// ID delegates to the wrapped principal id.
func (c DirectCredential) ID() string {
	return c.Authentication.Principal.ID
}

// Equal is structural over the wrapped authentication only.
func (c DirectCredential) Equal(other DirectCredential) bool {
	return reflect.DeepEqual(c.Authentication, other.Authentication)
}

// Hash returns a stable structural hash of the wrapped authentication.
// JSON marshaling orders map keys, so equal values hash identically.
func (c DirectCredential) Hash() uint64 {
	b, err := json.Marshal(c.Authentication)
	if err != nil {
		b = []byte(c.Authentication.Principal.ID)
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
