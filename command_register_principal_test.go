package auth_test

import (
	"context"
	"strings"
	"testing"

	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequestValidate(t *testing.T) {
	roles := auth.NewRoleRegistry()

	tests := []struct {
		name  string
		req   auth.RegisterRequest
		field string
	}{
		{
			name:  "missing identifier",
			req:   auth.RegisterRequest{Kind: auth.RoleNurse, Secret: "x", TenantID: "t1"},
			field: "identifier",
		},
		{
			name:  "unknown kind",
			req:   auth.RegisterRequest{Kind: "wizard", Identifier: "w@x.test", Secret: "x"},
			field: "kind",
		},
		{
			name:  "tenant required",
			req:   auth.RegisterRequest{Kind: auth.RoleNurse, Identifier: "n@x.test", Secret: "x"},
			field: "tenant_id",
		},
		{
			name:  "tenant forbidden for admin",
			req:   auth.RegisterRequest{Kind: auth.RoleAdmin, Identifier: "a@x.test", Secret: "x", TenantID: "t1"},
			field: "tenant_id",
		},
		{
			name:  "secret too long",
			req:   auth.RegisterRequest{Kind: auth.RoleAdmin, Identifier: "a@x.test", Secret: strings.Repeat("s", 73)},
			field: "secret",
		},
		{
			name: "bad phone",
			req: auth.RegisterRequest{
				Kind: auth.RoleNurse, Identifier: "n@x.test", Secret: "x", TenantID: "t1",
				Profile: map[string]any{"phone": "12"},
			},
			field: "profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(roles)
			require.Error(t, err)
			assert.Equal(t, auth.KindValidation, auth.KindOf(err))

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			fields, _ := richErr.Metadata["fields"].(map[string]any)
			assert.Contains(t, fields, tt.field)
		})
	}

	assert.NoError(t, auth.RegisterRequest{Kind: auth.RoleAdmin, Identifier: "a@x.test", Secret: "x"}.Validate(roles))
}

func TestRegisterPrincipal(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	out, err := f.svc.Register(ctx, auth.RegisterRequest{
		Kind:       auth.RoleNurse,
		Identifier: "  Nurse@Clinic.TEST",
		Secret:     "pa55word",
		TenantID:   "clinic-1",
		Profile: map[string]any{
			"display_name": "Night shift",
			"phone":        "(650) 253-0000",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, auth.RoleNurse, out.Kind)
	assert.Equal(t, "clinic-1", out.TenantID)
	assert.Equal(t, auth.StatusActive, out.Status)
	assert.Equal(t, "+16502530000", out.Profile["phone"])
	require.NotNil(t, out.Token)

	principal, err := f.svc.Authenticate(ctx, out.Token.Access)
	require.NoError(t, err)
	assert.Equal(t, "nurse@clinic.test", principal.Identifier)

	me, err := f.svc.Me(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, "Night shift", me.Profile["display_name"])

	entries := f.auditFor(t, "principal", out.ID.String())
	require.Len(t, entries, 1)
	assert.Equal(t, auth.ActionRegister, entries[0].Action)
	assert.Len(t, f.activity.ofType(auth.ActivityEventRegister), 1)
}

func TestRegisterConflictIsPerTenant(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.register(t, auth.RoleRegularUser, "user@acme.test", "pa55word", "acme")

	_, err := f.svc.Register(ctx, auth.RegisterRequest{
		Kind: auth.RoleRegularUser, Identifier: "USER@acme.test", Secret: "other", TenantID: "acme",
	})
	assert.Equal(t, auth.KindConflict, auth.KindOf(err))

	f.register(t, auth.RoleRegularUser, "user@acme.test", "pa55word", "globex")
}

func TestRegisterAfterDeleteReusesIdentifier(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	first := f.register(t, auth.RoleRegularUser, "user@acme.test", "pa55word", "acme")

	require.NoError(t, f.svc.Lifecycle().Delete(ctx, operator, first.ID))

	second := f.register(t, auth.RoleRegularUser, "user@acme.test", "n3w-pass", "acme")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRegisterWithHashid(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	req := auth.RegisterRequest{
		Kind: auth.RoleRegularUser, Identifier: "user@acme.test", Secret: "pa55word", TenantID: "acme", UseHashid: true,
	}
	first, err := f.svc.Register(ctx, req)
	require.NoError(t, err)

	require.NoError(t, f.svc.Lifecycle().Delete(ctx, operator, first.ID))

	_, err = f.svc.Register(ctx, req)
	assert.Equal(t, auth.KindConflict, auth.KindOf(err), "derived ids are stable across deletes")
}

func TestRegisterHashidFailureIsInternal(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil, auth.WithHashidOptions(hashid.WithHashAlgorithm(hashid.HMAC_SHA256)))

	_, err := f.svc.Register(ctx, auth.RegisterRequest{
		Kind: auth.RoleRegularUser, Identifier: "user@acme.test", Secret: "pa55word", TenantID: "acme", UseHashid: true,
	})
	require.Error(t, err, "an HMAC derivation without a key must not fall back to a random id")
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))

	_, err = f.svc.Login(ctx, auth.LoginRequest{Identifier: "user@acme.test", Secret: "pa55word", TenantID: "acme"})
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err), "nothing was persisted")
}

func TestRegisterWithHashidKey(t *testing.T) {
	ctx := context.Background()
	req := auth.RegisterRequest{
		Kind: auth.RoleRegularUser, Identifier: "user@acme.test", Secret: "pa55word", TenantID: "acme", UseHashid: true,
	}

	plain := newServiceFixture(t, nil)
	keyed := newServiceFixture(t, nil, auth.WithHashidOptions(hashid.WithHMACKey([]byte("hashid-test-key"))))

	a, err := plain.svc.Register(ctx, req)
	require.NoError(t, err)
	b, err := keyed.svc.Register(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestRegisterCancelledContext(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Register(ctx, auth.RegisterRequest{
		Kind: auth.RoleAdmin, Identifier: "root@ops.test", Secret: "pa55word",
	})
	assert.Equal(t, auth.KindUnavailable, auth.KindOf(err))
}
