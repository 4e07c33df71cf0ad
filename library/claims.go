package library

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim value that unlocks admin-only controls.
const RoleAdmin = "ADMIN"

// Claims is the part of the token payload the client reads.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the token payload WITHOUT verifying its signature.
//
// The result is only good for deciding what to display. Authorization is
// enforced by the backend on every request; a forged role claim unlocks buttons,
// not operations.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// IsAdminToken reports whether token carries the admin role. Any decode failure
// counts as "not admin".
func IsAdminToken(token string) bool {
	if token == "" {
		return false
	}
	claims, err := ParseClaims(token)
	if err != nil {
		return false
	}
	return claims.Role == RoleAdmin
}
