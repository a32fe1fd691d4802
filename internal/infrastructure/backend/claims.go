package backend

import (
	"fmt"

	"freightdash/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims mirrors the payload of the backend's session token.
type sessionClaims struct {
	UserID string `json:"userid"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// parseSessionClaims reads the token without verifying it. The signing key
// belongs to the backend; the dashboard only needs the expiry and identity
// it was issued for.
func parseSessionClaims(raw string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	return claims, nil
}

// fill completes s with what the token carries.
func (c *sessionClaims) fill(s *domain.Session) {
	if s.UserID == "" {
		s.UserID = domain.UserID(c.UserID)
	}
	if s.Name == "" {
		s.Name = c.Name
	}
	if s.Role == "" {
		s.Role = c.Role
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
}
