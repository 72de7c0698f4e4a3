package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload: the registered subject carries the user id
// and the name claim carries the display name.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HMAC-signed bearer tokens.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an authenticator for tokens signed with the
// given shared secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Verify parses and validates the token, rejecting non-HMAC signing methods
// and tokens without a subject. Expiry is enforced by the parser.
func (a *JWTAuthenticator) Verify(_ context.Context, token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	username := claims.Name
	if username == "" {
		username = claims.Subject
	}
	return Identity{UserID: claims.Subject, Username: username}, nil
}

// Issue mints a token for the given identity, valid for ttl. Deployments
// normally mint tokens in their login service; this helper exists for local
// setups and tests.
func (a *JWTAuthenticator) Issue(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
