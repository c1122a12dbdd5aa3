package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AuthClaims is the read-only view of a validated access token
type AuthClaims interface {
	Subject() string
	UserID() string
	Role() string
	Username() string
	Email() string
	TokenType() string
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// AccessClaims are carried by short lived, stateless access tokens
type AccessClaims struct {
	jwt.RegisteredClaims
	UID       string         `json:"uid,omitempty"`
	UserRole  string         `json:"role,omitempty"`
	UserName  string         `json:"username,omitempty"`
	UserEmail string         `json:"email,omitempty"`
	Type      string         `json:"typ"`
	Metadata  map[string]any `json:"metadata,omitempty"` // extension payload
}

var _ AuthClaims = (*AccessClaims)(nil)

// Subject returns the subject claim
func (c *AccessClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *AccessClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

func (c *AccessClaims) Role() string      { return c.UserRole }
func (c *AccessClaims) Username() string  { return c.UserName }
func (c *AccessClaims) Email() string     { return c.UserEmail }
func (c *AccessClaims) TokenType() string { return c.Type }

// ClaimsMetadata exposes metadata extensions for optional context enrichment.
func (c *AccessClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}

// HasRole checks the global role
func (c *AccessClaims) HasRole(role string) bool {
	return c.UserRole == role
}

// IsAtLeast checks if the user's role is at least the minimum required role
func (c *AccessClaims) IsAtLeast(minRole string) bool {
	return UserRole(c.UserRole).IsAtLeast(UserRole(minRole))
}

// Expires returns the expiration time
func (c *AccessClaims) Expires() time.Time {
	return numericDate(c.RegisteredClaims.ExpiresAt)
}

// IssuedAt returns the issued at time
func (c *AccessClaims) IssuedAt() time.Time {
	return numericDate(c.RegisteredClaims.IssuedAt)
}

// RefreshClaims are carried by refresh tokens. They only identify the
// account, everything else is looked up on rotation.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// UserID returns the subject
func (c *RefreshClaims) UserID() string {
	return c.Subject
}

// Expires returns the expiration time
func (c *RefreshClaims) Expires() time.Time {
	return numericDate(c.RegisteredClaims.ExpiresAt)
}

func numericDate(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
