// Package auth issues and verifies the HS256 bearer tokens that guard the
// prediction API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role represents authorization levels, ordered viewer < operator < admin.
type Role string

const (
	RoleAdmin    Role = "admin"    // manage streams
	RoleOperator Role = "operator" // submit windows for prediction
	RoleViewer   Role = "viewer"   // read-only access
)

// ValidRoles contains all valid role values.
var ValidRoles = map[Role]bool{
	RoleAdmin:    true,
	RoleOperator: true,
	RoleViewer:   true,
}

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// Allows reports whether r grants at least the privileges of required.
func (r Role) Allows(required Role) bool { return r.rank() >= required.rank() && r.rank() > 0 }

const issuer = "sensorguard"

// ErrInvalidRole is returned when issuing a token for an unknown role.
var ErrInvalidRole = errors.New("invalid role")

// Claims holds the JWT payload for access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenService signs and validates access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given signing secret and TTL.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	return &TokenService{secret: secret, ttl: ttl}
}

// IssueToken generates a signed token for subject with the given role.
func (s *TokenService) IssueToken(subject string, role Role) (string, error) {
	if !ValidRoles[role] {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    issuer,
		},
		Role: string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates an access token, returning the claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if !ValidRoles[Role(claims.Role)] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }
