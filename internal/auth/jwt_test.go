package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kintree/pkg/domain"
)

var secret = []byte("test-secret")

func TestMintVerifyRoundTrip(t *testing.T) {
	token, err := Mint(secret, domain.Identity{UID: "alice", Admin: true}, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	identity, err := Verify(secret, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UID != "alice" || !identity.Admin {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Mint(secret, domain.Identity{UID: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := Verify([]byte("other-secret"), token); err == nil {
		t.Fatalf("expected verification failure")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token, err := Mint(secret, domain.Identity{UID: "alice"}, -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := Verify(secret, token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestFromRequestRequiresBearerScheme(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := FromRequest(secret, r); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken for missing header, got %v", err)
	}
	r.Header.Set("Authorization", "Basic abc")
	if _, err := FromRequest(secret, r); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken for non-bearer scheme, got %v", err)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	token, err := Mint(secret, domain.Identity{UID: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	var seen domain.Identity
	var ok bool
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, ok = IdentityFrom(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	Middleware(secret, next).ServeHTTP(httptest.NewRecorder(), r)
	if !ok || seen.UID != "alice" {
		t.Fatalf("identity not injected: %+v (ok=%v)", seen, ok)
	}

	ok = false
	Middleware(secret, next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if ok {
		t.Fatalf("identity must not be injected without a token")
	}
}
