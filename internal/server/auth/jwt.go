// Package auth issues and checks the HS256 bearer tokens used towards
// publishing APIs and on the control surface.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the caller by account public key.
type Claims struct {
	jwt.RegisteredClaims
	PubKey string `json:"pubkey,omitempty"`
}

// GenerateToken returns a token for subject valid for validity. pubkey may be
// empty.
func GenerateToken(subject, pubkey string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "nostr-scheduler",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		PubKey: pubkey,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
