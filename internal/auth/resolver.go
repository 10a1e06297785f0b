// Package auth resolves bearer tokens to super-admin principals.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the owner of a personal access token.
type Principal struct {
	ID          string
	Status      string
	Permissions []string
}

// StatusActive is the only status permitted through the pipeline.
const StatusActive = "active"

// PrincipalResolver turns a bearer token into a principal. The platform's
// token service is the production implementation; the JWT resolver below is
// the in-process one.
type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (*Principal, error)
}

var (
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims are the personal-access-token claims issued by the platform.
type Claims struct {
	Status      string   `json:"status"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// JWTResolver validates HMAC-signed personal access tokens.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver verifying tokens against secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// Resolve parses and verifies the token, returning its principal. Expiry and
// signature failures both surface as ErrInvalidToken; the caller decides what
// to leak (nothing).
func (r *JWTResolver) Resolve(_ context.Context, token string) (*Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &Principal{
		ID:          claims.Subject,
		Status:      claims.Status,
		Permissions: claims.Permissions,
	}, nil
}
