package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWT-related errors
var (
	ErrInvalidToken = errors.New("invalid token format")
	ErrMissingSub   = errors.New("sub claim missing from token")
)

// ExtractOwnerFromToken parses a bearer token and extracts the subject,
// which identifies the owning principal. This function doesn't validate
// the token signature (the API Gateway authorizer does that) but extracts
// the identity from the payload.
func ExtractOwnerFromToken(tokenString string) (string, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &jwt.RegisteredClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrMissingSub
	}
	return claims.Subject, nil
}
