package httpapi_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/httpapi"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newService(t *testing.T, extra ...auth.ServiceOption) *auth.Service {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	repos := auth.NewRepositoryManager(db)
	require.NoError(t, repos.Migrate(context.Background()))

	opts := auth.DefaultOptions()
	opts.SigningKey = "http-signing-key-0123456789abcdef"
	opts.DenialAuditing = true

	base := []auth.ServiceOption{
		auth.WithPasswordHasher(auth.BcryptHasher{Cost: bcrypt.MinCost}),
		auth.WithServiceLogger(nopLogger{}),
	}
	return auth.NewService(opts, repos, append(base, extra...)...)
}

type response struct {
	status  int
	body    map[string]any
	cookies []*http.Cookie
}

func (r response) token(t *testing.T, name string) string {
	t.Helper()
	tokens, ok := r.body["token"].(map[string]any)
	require.True(t, ok, "missing token envelope: %v", r.body)
	raw, _ := tokens[name].(string)
	require.NotEmpty(t, raw)
	return raw
}

func (r response) errorKind() string {
	detail, _ := r.body["error"].(map[string]any)
	kind, _ := detail["kind"].(string)
	return kind
}

func do(t *testing.T, app *fiber.App, method, path string, payload any, mutate ...func(*http.Request)) response {
	t.Helper()

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for _, fn := range mutate {
		fn(req)
	}

	res, err := app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	out := response{status: res.StatusCode, cookies: res.Cookies()}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
}

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func registerNurse(t *testing.T, app *fiber.App, identifier string) response {
	t.Helper()
	res := do(t, app, http.MethodPost, "/auth/register/nurse", map[string]any{
		"identifier": identifier,
		"secret":     "pa55word",
		"tenant_id":  "clinic-1",
		"profile":    map[string]any{"display_name": "Day shift"},
	})
	require.Equal(t, http.StatusCreated, res.status, "%v", res.body)
	return res
}

func TestRegisterLoginMe(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t))

	registered := registerNurse(t, app, "nurse@clinic.test")
	assert.Equal(t, "nurse", registered.body["kind"])
	assert.NotContains(t, registered.body, "secret_hash")
	assert.NotContains(t, registered.body, "secret")

	login := do(t, app, http.MethodPost, "/auth/login", map[string]any{
		"identifier": "nurse@clinic.test",
		"secret":     "pa55word",
	})
	require.Equal(t, http.StatusOK, login.status)
	tokens := login.body["token"].(map[string]any)
	assert.NotEmpty(t, tokens["expired_at"])
	assert.NotEmpty(t, tokens["refreshable_until"])

	me := do(t, app, http.MethodGet, "/auth/me", nil, bearer(login.token(t, "access")))
	require.Equal(t, http.StatusOK, me.status)
	assert.Equal(t, registered.body["id"], me.body["id"])
	assert.Equal(t, "Day shift", me.body["profile"].(map[string]any)["display_name"])
}

func TestLoginFailure(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t))
	registerNurse(t, app, "nurse@clinic.test")

	wrong := do(t, app, http.MethodPost, "/auth/login", map[string]any{"identifier": "nurse@clinic.test", "secret": "nope"})
	unknown := do(t, app, http.MethodPost, "/auth/login", map[string]any{"identifier": "ghost@clinic.test", "secret": "nope"})

	assert.Equal(t, http.StatusUnauthorized, wrong.status)
	assert.Equal(t, wrong.status, unknown.status)
	assert.Equal(t, wrong.body, unknown.body)
	assert.Equal(t, string(auth.KindInvalidCredentials), wrong.errorKind())
}

func TestRegisterValidation(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t))

	res := do(t, app, http.MethodPost, "/auth/register/wizard", map[string]any{
		"identifier": "w@x.test",
		"secret":     "pa55word",
	})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, string(auth.KindValidation), res.errorKind())
	fields := res.body["error"].(map[string]any)["fields"].(map[string]any)
	assert.Contains(t, fields, "kind")

	res = do(t, app, http.MethodPost, "/auth/register/not-a-kind", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.status)

	registerNurse(t, app, "nurse@clinic.test")
	res = do(t, app, http.MethodPost, "/auth/register/nurse", map[string]any{
		"identifier": "nurse@clinic.test",
		"secret":     "other",
		"tenant_id":  "clinic-1",
	})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, string(auth.KindConflict), res.errorKind())
}

func TestRefreshAndLogout(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t))
	registered := registerNurse(t, app, "nurse@clinic.test")
	first := registered.token(t, "refresh")

	rotated := do(t, app, http.MethodPost, "/auth/refresh", map[string]any{"refresh_token": first})
	require.Equal(t, http.StatusOK, rotated.status)
	assert.NotEqual(t, first, rotated.token(t, "refresh"))

	replay := do(t, app, http.MethodPost, "/auth/refresh", map[string]any{"refresh_token": first})
	assert.Equal(t, http.StatusUnauthorized, replay.status)
	assert.Equal(t, string(auth.KindTokenInvalid), replay.errorKind())

	fresh := do(t, app, http.MethodPost, "/auth/login", map[string]any{"identifier": "nurse@clinic.test", "secret": "pa55word"})
	require.Equal(t, http.StatusOK, fresh.status)
	refresh := fresh.token(t, "refresh")

	out := do(t, app, http.MethodPost, "/auth/logout", map[string]any{"refresh_token": refresh})
	assert.Equal(t, http.StatusNoContent, out.status)

	after := do(t, app, http.MethodPost, "/auth/refresh", map[string]any{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, after.status)

	missing := do(t, app, http.MethodPost, "/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, missing.status)
	assert.Equal(t, string(auth.KindTokenMalformed), missing.errorKind())
}

func TestMeRequiresAccessToken(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t))
	registered := registerNurse(t, app, "nurse@clinic.test")

	res := do(t, app, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = do(t, app, http.MethodGet, "/auth/me", nil, bearer(registered.token(t, "refresh")))
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, string(auth.KindTokenKindMismatch), res.errorKind())
}

func TestCookieFlow(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t), httpapi.WithCookies(httpapi.CookieConfig{
		Enabled:     true,
		AccessName:  "access_token",
		RefreshName: "refresh_token",
		SameSite:    "Strict",
	}))
	registerNurse(t, app, "nurse@clinic.test")

	login := do(t, app, http.MethodPost, "/auth/login", map[string]any{"identifier": "nurse@clinic.test", "secret": "pa55word"})
	require.Equal(t, http.StatusOK, login.status)
	require.Len(t, login.cookies, 2)
	for _, c := range login.cookies {
		assert.True(t, c.HttpOnly, c.Name)
	}

	me := do(t, app, http.MethodGet, "/auth/me", nil, withCookies(login.cookies))
	assert.Equal(t, http.StatusOK, me.status)

	rotated := do(t, app, http.MethodPost, "/auth/refresh", nil, withCookies(login.cookies))
	assert.Equal(t, http.StatusOK, rotated.status)

	out := do(t, app, http.MethodPost, "/auth/logout", nil, withCookies(rotated.cookies))
	assert.Equal(t, http.StatusNoContent, out.status)
}

func TestCookieFlowRequiresCSRFToken(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t), httpapi.WithCookies(httpapi.CookieConfig{
		Enabled:     true,
		AccessName:  "access_token",
		RefreshName: "refresh_token",
		SameSite:    "Lax",
		CSRFKey:     []byte("csrf-key-0123456789abcdef0123456789"),
	}))
	registerNurse(t, app, "nurse@clinic.test")

	login := do(t, app, http.MethodPost, "/auth/login", map[string]any{"identifier": "nurse@clinic.test", "secret": "pa55word"})
	require.Equal(t, http.StatusOK, login.status)

	blocked := do(t, app, http.MethodPost, "/auth/refresh", nil, withCookies(login.cookies))
	assert.Equal(t, http.StatusBadRequest, blocked.status)
	assert.Equal(t, string(auth.KindValidation), blocked.errorKind())

	bootstrap := do(t, app, http.MethodGet, "/auth/csrf", nil)
	require.Equal(t, http.StatusOK, bootstrap.status)
	csrfToken, _ := bootstrap.body["token"].(string)
	require.NotEmpty(t, csrfToken)
	header, _ := bootstrap.body["header_name"].(string)

	withCSRF := func(r *http.Request) { r.Header.Set(header, csrfToken) }
	rotated := do(t, app, http.MethodPost, "/auth/refresh", nil, withCookies(login.cookies), withCSRF)
	assert.Equal(t, http.StatusOK, rotated.status)

	forged := func(r *http.Request) { r.Header.Set(header, csrfToken+"x") }
	denied := do(t, app, http.MethodPost, "/auth/logout", nil, withCookies(rotated.cookies), forged)
	assert.Equal(t, http.StatusForbidden, denied.status)

	body := do(t, app, http.MethodPost, "/auth/logout", map[string]any{"refresh_token": rotated.token(t, "refresh")})
	assert.Equal(t, http.StatusNoContent, body.status, "clients without the refresh cookie skip the check")
}

func TestRequireHidesForeignTenants(t *testing.T) {
	svc := newService(t)
	app, h := httpapi.NewApp(svc)

	departments := map[string]string{"d-1": "clinic-1", "d-2": "clinic-2"}
	deleted := 0

	rule := auth.AccessRule{
		Action: "department.delete",
		Roles:  auth.Roles(auth.RoleOrganizationAdmin, auth.RoleNurse),
		Tenant: auth.TenantMatch,
	}
	loader := func(c *fiber.Ctx, _ *auth.Principal) (*auth.Resource, error) {
		id := c.Params("id")
		tenant, ok := departments[id]
		if !ok {
			return auth.MissingResource("department", id), nil
		}
		return &auth.Resource{Type: "department", ID: id, TenantID: tenant}, nil
	}
	app.Delete("/departments/:id", h.Protected(), h.Require(rule, loader), func(c *fiber.Ctx) error {
		deleted++
		return c.SendStatus(http.StatusNoContent)
	})

	access := registerNurse(t, app, "nurse@clinic.test").token(t, "access")

	foreign := do(t, app, http.MethodDelete, "/departments/d-2", nil, bearer(access))
	missing := do(t, app, http.MethodDelete, "/departments/"+uuid.NewString(), nil, bearer(access))
	assert.Equal(t, http.StatusNotFound, foreign.status)
	assert.Equal(t, missing.status, foreign.status)
	assert.Equal(t, missing.errorKind(), foreign.errorKind())
	assert.Equal(t, 0, deleted)

	own := do(t, app, http.MethodDelete, "/departments/d-1", nil, bearer(access))
	assert.Equal(t, http.StatusNoContent, own.status)
	assert.Equal(t, 1, deleted)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newService(t, auth.WithMetrics(auth.NewMetrics(reg)))
	app, _ := httpapi.NewApp(svc, httpapi.WithMetricsGatherer(reg))
	registerNurse(t, app, "nurse@clinic.test")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(raw), "authcore_auth_attempts_total")
}

func TestUnknownRoute(t *testing.T) {
	app, _ := httpapi.NewApp(newService(t))

	res := do(t, app, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, res.status)
	assert.Equal(t, string(auth.KindNotFound), res.errorKind())
}
