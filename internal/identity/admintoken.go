package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin is the role claim required by RequireAdmin.
const RoleAdmin = "admin"

// AdminClaims are the JWT claims of an admin token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokenIssuer issues and verifies admin tokens.
type AdminTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewAdminTokenIssuer creates an AdminTokenIssuer.
//
//	secret: HMAC key; must be non-empty.
//	issuer: the "iss" claim value.
//	ttl:    default token lifetime (8 hours when zero).
func NewAdminTokenIssuer(secret, issuer string, ttl time.Duration) (*AdminTokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("admin token secret is required")
	}
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &AdminTokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed admin token for subject. A zero ttl uses the
// issuer's default.
func (a *AdminTokenIssuer) Issue(subject string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = a.ttl
	}
	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Role: RoleAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims. It does not
// check the role; RequireAdmin does.
func (a *AdminTokenIssuer) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token claims")
	}
	return claims, nil
}
