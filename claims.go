package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind tells access tokens apart from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// IsValid checks if the kind is one we issue
func (k TokenKind) IsValid() bool {
	return k == TokenAccess || k == TokenRefresh
}

// Claims is the complete claim set of tokens we issue: sub, role, tid,
// typ, iss, exp plus iat and jti.
type Claims struct {
	jwt.RegisteredClaims
	Role     RoleKind  `json:"role"`
	TenantID string    `json:"tid,omitempty"`
	Type     TokenKind `json:"typ"`
}

// Subject returns the principal id
func (c *Claims) Subject() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti claim
func (c *Claims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// Subject is who a token pair is issued for.
type Subject struct {
	ID       string
	Kind     RoleKind
	TenantID string
}

// TokenPair is the envelope returned on login, register and refresh.
type TokenPair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	ExpiredAt        time.Time `json:"expired_at"`
	RefreshableUntil time.Time `json:"refreshable_until"`

	// refresh jti and rotation family, consumed by the session store
	RefreshID string `json:"-"`
	FamilyID  string `json:"-"`
}
