package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/aegis/pkg/recovery"
)

// Claims are the JWT claims expected by the recovery API.
type Claims struct {
	jwt.RegisteredClaims
	Account string `json:"account"`
	Role    string `json:"role"`
}

// TokenManager issues and validates HMAC-signed bearer tokens.
type TokenManager struct {
	secret []byte
}

// NewTokenManager creates a manager with the given signing secret.
func NewTokenManager(secret []byte) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return &TokenManager{secret: secret}, nil
}

// Issue creates a signed token for a principal.
func (tm *TokenManager) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "aegis/auth",
			Audience:  jwt.ClaimStrings{"aegis.recovery"},
		},
		Account: p.Account,
		Role:    string(p.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// Validate parses and validates a token string and returns the principal it
// grants. Tokens with an unknown role are rejected.
func (tm *TokenManager) Validate(tokenStr string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return Principal{}, fmt.Errorf("invalid token")
	}

	role := recovery.Role(claims.Role)
	if !role.Valid() {
		return Principal{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return Principal{ID: claims.Subject, Account: claims.Account, Role: role}, nil
}
