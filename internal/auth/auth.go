// Package auth verifies opaque session tokens presented during the
// connection handshake and resolves them to user identities.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken indicates a missing, malformed, expired or otherwise
// unverifiable token. Fatal to the presenting connection.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is a verified user identity, bound to a connection at handshake
// time and immutable afterwards.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator exchanges an opaque token for a verified identity.
type Authenticator interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
