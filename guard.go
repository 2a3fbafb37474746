package auth

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// TenantMode says whether the actor's tenant must match the resource's
type TenantMode string

const (
	TenantNone  TenantMode = "none"
	TenantMatch TenantMode = "match"
)

// OwnershipMode says whether the actor must own the resource
type OwnershipMode string

const (
	OwnershipNone  OwnershipMode = "none"
	OwnershipMatch OwnershipMode = "match"
)

// AccessRule is the declarative policy of one protected operation.
type AccessRule struct {
	Action    string
	Roles     RoleSet
	Tenant    TenantMode
	Ownership OwnershipMode
}

// Validate checks the rule
func (r AccessRule) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Action, validation.Required),
		validation.Field(&r.Roles, validation.Required),
		validation.Field(&r.Tenant, validation.In(TenantMode(""), TenantNone, TenantMatch)),
		validation.Field(&r.Ownership, validation.In(OwnershipMode(""), OwnershipNone, OwnershipMatch)),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

func (r AccessRule) needsResource() bool {
	return r.Tenant == TenantMatch || r.Ownership == OwnershipMatch
}

// Resource is what the guard knows about the target of an operation.
type Resource struct {
	Type      string
	ID        string
	TenantID  string
	OwnerID   string
	Missing   bool
	DeletedAt *time.Time
}

// MissingResource describes a target that was not found.
func MissingResource(resourceType, id string) *Resource {
	return &Resource{Type: resourceType, ID: id, Missing: true}
}

// IsGone reports whether the resource is absent or soft deleted.
func (r *Resource) IsGone() bool {
	return r == nil || r.Missing || (r.DeletedAt != nil && !r.DeletedAt.IsZero())
}

// Guard decides whether a live principal may perform an operation. It
// never touches the store.
type Guard struct{}

// NewGuard creates a guard
func NewGuard() *Guard {
	return &Guard{}
}

// Check returns nil when principal may apply rule to resource. A resource
// of another tenant is reported exactly like a missing one.
func (g *Guard) Check(principal *Principal, rule AccessRule, resource *Resource) error {
	switch {
	case principal == nil:
		return ErrActorNotFound
	case principal.IsDeleted():
		return ErrActorDeleted
	case principal.IsSuspended():
		return ErrAccountSuspended
	}

	if !rule.Roles.Has(principal.Kind) {
		return withCause(ErrForbidden, nil, map[string]any{
			"action": rule.Action,
			"reason": "role",
		})
	}

	if resource == nil {
		if rule.needsResource() {
			return withCause(ErrValidation, nil, map[string]any{
				"action": rule.Action,
				"fields": map[string]any{"resource": "is required"},
			})
		}
		return nil
	}

	if resource.IsGone() {
		return notFound(resource)
	}

	if rule.Tenant == TenantMatch && principal.TenantID != resource.TenantID {
		return notFound(resource)
	}

	if rule.Ownership == OwnershipMatch && principal.ID.String() != resource.OwnerID {
		return withCause(ErrForbidden, nil, map[string]any{
			"action": rule.Action,
			"reason": "ownership",
		})
	}

	return nil
}

// notFound carries the same metadata for missing and foreign resources.
func notFound(resource *Resource) error {
	return withCause(ErrNotFound, nil, map[string]any{
		"type": resource.Type,
		"id":   resource.ID,
	})
}
