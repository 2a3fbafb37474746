package auth

import (
	"sort"
	"sync"
)

// RoleKind is the role a principal authenticates as.
type RoleKind string

const (
	// RoleAdmin is a global administrator, not bound to a tenant
	RoleAdmin RoleKind = "admin"
	// RoleOrganizationAdmin administers a single organization
	RoleOrganizationAdmin RoleKind = "organizationAdmin"
	// RoleRegularUser is a tenant member
	RoleRegularUser RoleKind = "regularUser"
	// RoleNurse is a tenant member with a clinical profile
	RoleNurse RoleKind = "nurse"
)

// RoleSpec describes how a role kind is scoped.
type RoleSpec struct {
	Kind RoleKind
	// TenantScoped kinds must carry a tenant id, global kinds must not.
	TenantScoped bool
}

// RoleRegistry is the set of role kinds principals may have.
type RoleRegistry struct {
	mu    sync.RWMutex
	specs map[RoleKind]RoleSpec
}

// NewRoleRegistry returns a registry seeded with the built in kinds
// plus any extra specs.
func NewRoleRegistry(extra ...RoleSpec) *RoleRegistry {
	r := &RoleRegistry{
		specs: map[RoleKind]RoleSpec{},
	}

	for _, spec := range DefaultRoleSpecs() {
		r.Register(spec)
	}

	for _, spec := range extra {
		r.Register(spec)
	}

	return r
}

// DefaultRoleSpecs returns the built in kinds
func DefaultRoleSpecs() []RoleSpec {
	return []RoleSpec{
		{Kind: RoleAdmin, TenantScoped: false},
		{Kind: RoleOrganizationAdmin, TenantScoped: true},
		{Kind: RoleRegularUser, TenantScoped: true},
		{Kind: RoleNurse, TenantScoped: true},
	}
}

// Register adds or replaces a kind.
func (r *RoleRegistry) Register(spec RoleSpec) {
	if spec.Kind == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Kind] = spec
}

// Lookup returns the spec for kind.
func (r *RoleRegistry) Lookup(kind RoleKind) (RoleSpec, bool) {
	if r == nil {
		return RoleSpec{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[kind]
	return spec, ok
}

// IsValid checks if kind is registered
func (r *RoleRegistry) IsValid(kind RoleKind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Kinds returns all registered kinds sorted by name.
func (r *RoleRegistry) Kinds() []RoleKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RoleKind, 0, len(r.specs))
	for kind := range r.specs {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseRole safely parses a string into a RoleKind using the registry.
func (r *RoleRegistry) ParseRole(s string) (RoleKind, bool) {
	kind := RoleKind(s)
	return kind, r.IsValid(kind)
}

// RoleSet is an allow list used by access rules.
type RoleSet []RoleKind

// Roles builds a RoleSet.
func Roles(kinds ...RoleKind) RoleSet {
	return RoleSet(kinds)
}

// Has reports whether kind is in the set. An empty set allows nobody.
func (s RoleSet) Has(kind RoleKind) bool {
	for _, k := range s {
		if k == kind {
			return true
		}
	}
	return false
}
