// Package auth verifies JWT bearer tokens and carries the resulting identity
// through request contexts. Tokens are HMAC-signed; the claims uid and admin
// map onto domain.Identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kintree/pkg/domain"
)

// Claims is the token payload.
type Claims struct {
	UID   string `json:"uid"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// ErrNoToken indicates the request carried no bearer token.
var ErrNoToken = errors.New("auth: missing bearer token")

// Mint issues a signed token for identity, valid for ttl.
func Mint(secret []byte, identity domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:   identity.UID,
		Admin: identity.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify parses and validates a token, returning the embedded identity.
func Verify(secret []byte, token string) (domain.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("auth: parse token: %w", err)
	}
	if !parsed.Valid {
		return domain.Identity{}, errors.New("auth: invalid token")
	}
	return domain.Identity{UID: claims.UID, Admin: claims.Admin}, nil
}

type contextKey struct{}

// IdentityFrom extracts the verified identity from a request context.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(domain.Identity)
	return id, ok
}

// WithIdentity returns ctx carrying identity; used by the middleware and by
// tests that bypass token verification.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromRequest extracts and verifies the bearer token on r.
func FromRequest(secret []byte, r *http.Request) (domain.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return domain.Identity{}, ErrNoToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return domain.Identity{}, ErrNoToken
	}
	return Verify(secret, strings.TrimSpace(token))
}

// Middleware verifies the bearer token and injects the identity into the
// request context. Requests without a valid token proceed with no identity;
// handlers that require one reject them there.
func Middleware(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := FromRequest(secret, r)
		if err == nil {
			r = r.WithContext(WithIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}
