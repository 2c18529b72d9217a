package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

// GenerateSigningKey generates an RSA 2048-bit key for signing test tokens.
func GenerateSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	return key
}

// CreateJWT signs an access token like the identity service issues: RS256,
// with the given subject and expiry.
func CreateJWT(t *testing.T, key *rsa.PrivateKey, subject string, expiry time.Time) string {
	t.Helper()

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    "logiflow-auth",
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
		ExpiresAt: jwt.NewNumericDate(expiry),
	})

	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign JWT")

	return signed
}
