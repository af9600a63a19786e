package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evidentry/evidentry/internal/identity"
)

var ctx = context.Background()

func TestTokenAuthenticator_roundTrip(t *testing.T) {
	auth := identity.NewTokenAuthenticator([]byte("test-secret"), "https://id.example.com", time.Hour)

	tok, err := auth.Issue("user_42", identity.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	p, err := auth.Resolve(ctx, tok)
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "user_42" || p.Role != identity.RoleAdmin {
		t.Errorf("unexpected principal: %+v", p)
	}
}

func TestTokenAuthenticator_defaultsRoleToReviewer(t *testing.T) {
	auth := identity.NewTokenAuthenticator([]byte("test-secret"), "https://id.example.com", time.Hour)

	tok, err := auth.Issue("user_42", "")
	if err != nil {
		t.Fatal(err)
	}
	p, err := auth.Resolve(ctx, tok)
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != identity.RoleReviewer {
		t.Errorf("expected reviewer role default, got %q", p.Role)
	}
}

func TestTokenAuthenticator_rejectsWrongIssuer(t *testing.T) {
	issuer := identity.NewTokenAuthenticator([]byte("test-secret"), "https://other.example.com", time.Hour)
	verifier := identity.NewTokenAuthenticator([]byte("test-secret"), "https://id.example.com", time.Hour)

	tok, err := issuer.Issue("user_42", identity.RoleReviewer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Resolve(ctx, tok); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestTokenAuthenticator_rejectsWrongKey(t *testing.T) {
	issuer := identity.NewTokenAuthenticator([]byte("other-secret"), "https://id.example.com", time.Hour)
	verifier := identity.NewTokenAuthenticator([]byte("test-secret"), "https://id.example.com", time.Hour)

	tok, err := issuer.Issue("user_42", identity.RoleReviewer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Resolve(ctx, tok); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestTokenAuthenticator_rejectsExpired(t *testing.T) {
	auth := identity.NewTokenAuthenticator([]byte("test-secret"), "https://id.example.com", -time.Minute)

	tok, err := auth.Issue("user_42", identity.RoleReviewer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Resolve(ctx, tok); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestStaticAuthenticator(t *testing.T) {
	auth := identity.NewStaticAuthenticator(map[string]identity.Principal{
		"dev-token": {UserID: "user_1", Role: identity.RoleReviewer},
	})

	p, err := auth.Resolve(ctx, "dev-token")
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "user_1" {
		t.Errorf("unexpected principal: %+v", p)
	}

	if _, err := auth.Resolve(ctx, "unknown"); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}
