// Package auth holds the credential primitives that are not backed by
// storage: TOTP codes for the second factor and HS256 service tokens that
// authenticate callers of the internal auth-check API.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims identifies the internal service presenting the token.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Service string `json:"svc"`
}

// GenerateServiceToken signs a token for service valid for validityDuration.
func GenerateServiceToken(service string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		Service: service,
	})

	return token.SignedString(secretKey)
}

// ParseServiceToken verifies tokenString and returns the calling service name.
// Expired tokens yield common.ErrTokenExpired; anything else that fails
// verification yields common.ErrInvalidToken.
func ParseServiceToken(tokenString string, secretKey []byte) (string, error) {
	claims := &ServiceClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.Service == "" {
		return "", common.ErrInvalidToken
	}

	return claims.Service, nil
}
