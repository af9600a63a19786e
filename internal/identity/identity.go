// Package identity supplies the caller principal abstraction. Token
// issuance and account management live outside this service; handlers only
// need the capability "resolve a caller-supplied credential to a
// (userId, role) pair", which Authenticator captures.
package identity

import (
	"context"
	"errors"
)

// Roles recognized by the service. Council roles (CHAIR/PARTNER/OBSERVER)
// are a membership property, not a principal property.
const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
)

// Principal identifies an authenticated caller.
type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// ErrUnauthenticated is returned when a credential cannot be resolved to a
// principal.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves a caller-supplied bearer credential to a Principal.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*Principal, error)
}

// StaticAuthenticator resolves tokens from a fixed map. It is used in tests
// and local development where an external identity provider is unavailable.
type StaticAuthenticator struct {
	tokens map[string]Principal
}

// NewStaticAuthenticator creates a StaticAuthenticator over a copy of tokens.
func NewStaticAuthenticator(tokens map[string]Principal) *StaticAuthenticator {
	cp := make(map[string]Principal, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticAuthenticator{tokens: cp}
}

// Resolve implements Authenticator.
func (a *StaticAuthenticator) Resolve(_ context.Context, token string) (*Principal, error) {
	p, ok := a.tokens[token]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return &p, nil
}
