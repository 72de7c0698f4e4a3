package auth

import (
	"context"
	"sync"
)

// StaticAuthenticator resolves tokens from a fixed in-memory table. Useful
// for development and tests where minting signed tokens is overkill.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewStaticAuthenticator creates an empty table.
func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{tokens: make(map[string]Identity)}
}

// Add registers a token for the given identity, replacing any previous
// registration of the same token.
func (a *StaticAuthenticator) Add(token string, identity Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = identity
}

// Revoke removes a token. Revoking an unknown token is a no-op.
func (a *StaticAuthenticator) Revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}

// Verify resolves the token or fails with ErrInvalidToken.
func (a *StaticAuthenticator) Verify(_ context.Context, token string) (Identity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	identity, ok := a.tokens[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return identity, nil
}
