package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload of access tokens issued by the auth provider.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Viewer identifies the caller of a component operation.
type Viewer struct {
	ID   string
	Role UserRole
}

// Viewer extracts the caller identity from the claims.
func (c *JWTClaims) Viewer() Viewer {
	if c == nil {
		return Viewer{}
	}
	return Viewer{ID: c.UserID, Role: c.Role}
}

// IsAdmin reports whether the viewer bypasses ownership checks.
func (v Viewer) IsAdmin() bool {
	return v.Role == RoleAdmin
}
