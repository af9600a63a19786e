package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClaims are the JWT claims of a session token accepted by the service.
// The upstream identity provider signs these; this service only verifies.
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// TokenAuthenticator verifies HS256 session JWTs from the upstream identity
// provider and implements Authenticator. It can also mint tokens, which the
// seed tool and tests use in place of a real provider.
type TokenAuthenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenAuthenticator creates a TokenAuthenticator.
//
//	secret — shared HMAC key, also held by the identity provider.
//	issuer — expected "iss" claim.
//	ttl    — lifetime for tokens minted by Issue (default: 24 hours).
func NewTokenAuthenticator(secret []byte, issuer string, ttl time.Duration) *TokenAuthenticator {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenAuthenticator{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue creates a signed session token for the given principal.
func (a *TokenAuthenticator) Issue(userID, role string) (string, error) {
	now := time.Now().UTC()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Role:   role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Resolve implements Authenticator.
func (a *TokenAuthenticator) Resolve(_ context.Context, tokenStr string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&TokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no user id", ErrUnauthenticated)
	}
	role := claims.Role
	if role == "" {
		role = RoleReviewer
	}
	return &Principal{UserID: claims.UserID, Role: role}, nil
}
