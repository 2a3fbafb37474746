package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardPrincipal(kind auth.RoleKind, tenant string) *auth.Principal {
	return &auth.Principal{ID: uuid.New(), Kind: kind, TenantID: tenant, Status: auth.StatusActive}
}

func TestGuardRoles(t *testing.T) {
	guard := auth.NewGuard()
	rule := auth.AccessRule{Action: "report.read", Roles: auth.Roles(auth.RoleAdmin, auth.RoleOrganizationAdmin)}

	assert.NoError(t, guard.Check(guardPrincipal(auth.RoleAdmin, ""), rule, nil))
	assert.NoError(t, guard.Check(guardPrincipal(auth.RoleOrganizationAdmin, "t1"), rule, nil))

	err := guard.Check(guardPrincipal(auth.RoleNurse, "t1"), rule, nil)
	assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
}

func TestGuardEmptyRolesAllowsNobody(t *testing.T) {
	guard := auth.NewGuard()
	rule := auth.AccessRule{Action: "noop"}

	for _, kind := range []auth.RoleKind{auth.RoleAdmin, auth.RoleOrganizationAdmin, auth.RoleRegularUser, auth.RoleNurse} {
		err := guard.Check(guardPrincipal(kind, "t1"), rule, nil)
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err), "kind=%s", kind)
	}
}

func TestGuardTenantMismatchLooksLikeMissing(t *testing.T) {
	guard := auth.NewGuard()
	rule := auth.AccessRule{
		Action: "department.delete",
		Roles:  auth.Roles(auth.RoleOrganizationAdmin),
		Tenant: auth.TenantMatch,
	}
	actor := guardPrincipal(auth.RoleOrganizationAdmin, "t1")
	id := uuid.NewString()

	foreign := guard.Check(actor, rule, &auth.Resource{Type: "department", ID: id, TenantID: "t2"})
	missing := guard.Check(actor, rule, auth.MissingResource("department", id))

	require.Error(t, foreign)
	require.Error(t, missing)
	assert.Equal(t, auth.KindNotFound, auth.KindOf(foreign))
	assert.Equal(t, auth.KindOf(missing), auth.KindOf(foreign))
	assert.Equal(t, missing.Error(), foreign.Error())

	var foreignErr, missingErr *goerrors.Error
	require.True(t, goerrors.As(foreign, &foreignErr))
	require.True(t, goerrors.As(missing, &missingErr))
	assert.Equal(t, missingErr.Metadata, foreignErr.Metadata)

	assert.NoError(t, guard.Check(actor, rule, &auth.Resource{Type: "department", ID: id, TenantID: "t1"}))
}

func TestGuardSoftDeletedResource(t *testing.T) {
	guard := auth.NewGuard()
	rule := auth.AccessRule{Action: "department.update", Roles: auth.Roles(auth.RoleAdmin)}
	deletedAt := time.Now()

	err := guard.Check(guardPrincipal(auth.RoleAdmin, ""), rule, &auth.Resource{
		Type:      "department",
		ID:        "d1",
		DeletedAt: &deletedAt,
	})
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
}

func TestGuardOwnership(t *testing.T) {
	guard := auth.NewGuard()
	rule := auth.AccessRule{
		Action:    "profile.update",
		Roles:     auth.Roles(auth.RoleNurse),
		Tenant:    auth.TenantMatch,
		Ownership: auth.OwnershipMatch,
	}
	owner := guardPrincipal(auth.RoleNurse, "t1")
	other := guardPrincipal(auth.RoleNurse, "t1")
	resource := &auth.Resource{Type: "profile", ID: "p1", TenantID: "t1", OwnerID: owner.ID.String()}

	assert.NoError(t, guard.Check(owner, rule, resource))
	assert.Equal(t, auth.KindForbidden, auth.KindOf(guard.Check(other, rule, resource)))
}

func TestGuardRequiresResource(t *testing.T) {
	guard := auth.NewGuard()
	rule := auth.AccessRule{
		Action: "department.delete",
		Roles:  auth.Roles(auth.RoleOrganizationAdmin),
		Tenant: auth.TenantMatch,
	}

	err := guard.Check(guardPrincipal(auth.RoleOrganizationAdmin, "t1"), rule, nil)
	assert.Equal(t, auth.KindValidation, auth.KindOf(err))
}

func TestGuardRejectsUnusablePrincipals(t *testing.T) {
	guard := auth.NewGuard()
	rule := auth.AccessRule{Action: "report.read", Roles: auth.Roles(auth.RoleAdmin)}

	assert.Same(t, auth.ErrActorNotFound, guard.Check(nil, rule, nil))

	deleted := guardPrincipal(auth.RoleAdmin, "")
	deletedAt := time.Now()
	deleted.DeletedAt = &deletedAt
	assert.Same(t, auth.ErrActorDeleted, guard.Check(deleted, rule, nil))

	suspended := guardPrincipal(auth.RoleAdmin, "")
	suspended.Status = auth.StatusSuspended
	assert.Equal(t, auth.KindForbidden, auth.KindOf(guard.Check(suspended, rule, nil)))
}

func TestAccessRuleValidate(t *testing.T) {
	assert.NoError(t, auth.AccessRule{Action: "a", Roles: auth.Roles(auth.RoleAdmin)}.Validate())

	err := auth.AccessRule{Roles: auth.Roles(auth.RoleAdmin)}.Validate()
	assert.Equal(t, auth.KindValidation, auth.KindOf(err))

	err = auth.AccessRule{Action: "a", Roles: auth.Roles(auth.RoleAdmin), Tenant: "sometimes"}.Validate()
	assert.Equal(t, auth.KindValidation, auth.KindOf(err))
}
