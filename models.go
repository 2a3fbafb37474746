package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PrincipalStatus is the lifecycle status of a principal
type PrincipalStatus string

const (
	StatusActive    PrincipalStatus = "active"
	StatusSuspended PrincipalStatus = "suspended"
)

// Principal is an authenticatable actor of any role kind.
type Principal struct {
	bun.BaseModel `bun:"table:principals,alias:prn"`
	ID            uuid.UUID       `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Kind          RoleKind        `bun:"role_kind,notnull" json:"kind,omitempty"`
	Identifier    string          `bun:"identifier,notnull" json:"identifier,omitempty"`
	TenantID      string          `bun:"tenant_id,nullzero" json:"tenant_id,omitempty"`
	Status        PrincipalStatus `bun:"status,notnull" json:"status,omitempty"`
	SecretHash    string          `bun:"secret_hash,notnull" json:"-"`
	CreatedAt     *time.Time      `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time      `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time      `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the principal was soft deleted
func (p *Principal) IsDeleted() bool {
	return p != nil && p.DeletedAt != nil && !p.DeletedAt.IsZero()
}

// IsSuspended reports whether the principal is suspended
func (p *Principal) IsSuspended() bool {
	return p != nil && p.Status == StatusSuspended
}

// EnsureStatus defaults an empty status to active.
func (p *Principal) EnsureStatus() {
	if p != nil && p.Status == "" {
		p.Status = StatusActive
	}
}

// Subject is the identity a token is issued for.
func (p *Principal) Subject() Subject {
	if p == nil {
		return Subject{}
	}
	return Subject{
		ID:       p.ID.String(),
		Kind:     p.Kind,
		TenantID: p.TenantID,
	}
}

// Public returns the externally visible projection.
func (p *Principal) Public(profile *PrincipalProfile) PublicPrincipal {
	out := PublicPrincipal{
		ID:        p.ID,
		Kind:      p.Kind,
		TenantID:  p.TenantID,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if profile != nil && len(profile.Fields) > 0 {
		out.Profile = profile.Fields
	}
	return out
}

// PublicPrincipal is the only shape a principal leaves the core in.
// It has no room for credential material.
type PublicPrincipal struct {
	ID        uuid.UUID       `json:"id"`
	Kind      RoleKind        `json:"kind"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Status    PrincipalStatus `json:"status"`
	Profile   map[string]any  `json:"profile,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// PrincipalProfile holds the role specific fields of a principal.
type PrincipalProfile struct {
	bun.BaseModel `bun:"table:principal_profiles,alias:prf"`
	PrincipalID   uuid.UUID      `bun:"principal_id,pk,type:uuid" json:"principal_id"`
	Kind          RoleKind       `bun:"role_kind,notnull" json:"kind"`
	Fields        map[string]any `bun:"fields,type:jsonb" json:"fields,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// RefreshSession tracks one issued refresh token by its jti.
// No token material is stored.
type RefreshSession struct {
	bun.BaseModel `bun:"table:refresh_sessions,alias:rs"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	PrincipalID   uuid.UUID  `bun:"principal_id,notnull,type:uuid" json:"principal_id"`
	FamilyID      uuid.UUID  `bun:"family_id,notnull,type:uuid" json:"family_id"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	ReplacedBy    *uuid.UUID `bun:"replaced_by,nullzero,type:uuid" json:"replaced_by,omitempty"`
}

// IsUsed reports whether the session was already rotated
func (s *RefreshSession) IsUsed() bool {
	return s != nil && s.UsedAt != nil
}

// IsRevoked reports whether the session family was revoked
func (s *RefreshSession) IsRevoked() bool {
	return s != nil && s.RevokedAt != nil
}

// AuditEntry is an append only record of a mutation or denial.
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_entries,alias:ae"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	ActorID       string         `bun:"actor_id,notnull" json:"actor_id"`
	TenantID      string         `bun:"tenant_id,nullzero" json:"tenant_id,omitempty"`
	Action        string         `bun:"action,notnull" json:"action"`
	TargetType    string         `bun:"target_type,notnull" json:"target_type"`
	TargetID      string         `bun:"target_id,notnull" json:"target_id"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
	Payload       map[string]any `bun:"payload,type:jsonb" json:"payload,omitempty"`
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
