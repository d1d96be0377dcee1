// Package auth verifies bearer tokens issued by the account service. The
// gateway never issues tokens; it only checks the HMAC signature and expiry
// against the shared secret and extracts the user identity.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated user decoded from a valid token.
type Identity struct {
	UserID   string
	Username string
}

type claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token string. Any failure (bad signature,
// expired, malformed, missing identity fields) is returned as an error; the
// caller closes the connection without a reply frame.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: token verification failed: %w", err)
	}
	if c.UserID == "" || c.Username == "" {
		return Identity{}, fmt.Errorf("auth: token missing identity claims")
	}
	return Identity{UserID: c.UserID, Username: c.Username}, nil
}
