package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Token is the result of a successful login.
type Token struct {
	AccessToken string
	// ExpiresIn is the lifetime reported by the login endpoint, zero when the
	// endpoint does not report one.
	ExpiresIn time.Duration
}

// LoginFunc exchanges the configured service credentials for a token.
type LoginFunc func(ctx context.Context) (Token, error)

// tokenLifetime decides how long tok is valid from now. The exp claim of a
// JWT access token wins, then the lifetime reported at login, then fallback.
//
// The token is not verified: the gateway is not its audience, and the claim is
// only used to schedule the refresh.
func tokenLifetime(tok Token, fallback time.Duration, now time.Time) time.Duration {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims)
	if err == nil && claims.ExpiresAt != nil {
		if lifetime := claims.ExpiresAt.Time.Sub(now); lifetime > 0 {
			return lifetime
		}
	}

	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}

	return fallback
}
