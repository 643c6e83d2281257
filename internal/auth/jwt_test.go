package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestExtractOwnerFromToken(t *testing.T) {
	token := signedToken(t, jwt.RegisteredClaims{Subject: "alice"})

	owner, err := ExtractOwnerFromToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	// works without the Bearer prefix too
	owner, err = ExtractOwnerFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestExtractOwnerMissingSubject(t *testing.T) {
	token := signedToken(t, jwt.RegisteredClaims{Issuer: "someone"})

	_, err := ExtractOwnerFromToken(token)
	assert.ErrorIs(t, err, ErrMissingSub)
}

func TestExtractOwnerMalformedToken(t *testing.T) {
	_, err := ExtractOwnerFromToken("Bearer not-a-jwt")
	assert.Error(t, err)
}
