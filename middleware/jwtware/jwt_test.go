package jwtware_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/middleware/jwtware"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

type tokenAuthenticator struct {
	tokens auth.TokenService
}

func (a tokenAuthenticator) AuthenticateClaims(_ context.Context, raw string) (*auth.Principal, *auth.Claims, error) {
	claims, err := a.tokens.Verify(raw, auth.TokenAccess)
	if err != nil {
		return nil, nil, err
	}
	id, err := uuid.Parse(claims.Subject())
	if err != nil {
		return nil, nil, auth.ErrActorNotFound
	}
	return &auth.Principal{ID: id, Kind: claims.Role, TenantID: claims.TenantID, Status: auth.StatusActive}, claims, nil
}

func newTokens(t *testing.T) auth.TokenService {
	t.Helper()
	opts := auth.DefaultOptions()
	opts.SigningKey = testSigningKey
	return auth.NewTokenService(opts)
}

func issue(t *testing.T, tokens auth.TokenService, id uuid.UUID) *auth.TokenPair {
	t.Helper()
	pair, err := tokens.Issue(auth.Subject{ID: id.String(), Kind: auth.RoleNurse, TenantID: "clinic-1"}, "")
	require.NoError(t, err)
	return pair
}

func newApp(cfg jwtware.Config) *fiber.App {
	app := fiber.New()
	app.Get("/me", jwtware.New(cfg), func(c *fiber.Ctx) error {
		principal, ok := jwtware.PrincipalFrom(c, "principal")
		if !ok {
			return c.SendStatus(http.StatusInternalServerError)
		}
		fromCtx, ok := auth.FromContext(c.UserContext())
		if !ok || fromCtx.ID != principal.ID {
			return c.SendStatus(http.StatusInternalServerError)
		}
		if _, ok := auth.GetClaims(c.UserContext()); !ok {
			return c.SendStatus(http.StatusInternalServerError)
		}
		return c.SendString(principal.ID.String())
	})
	return app
}

func body(t *testing.T, res *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestJWTWare_BearerHeader(t *testing.T) {
	tokens := newTokens(t)
	id := uuid.New()
	pair := issue(t, tokens, id)

	app := newApp(jwtware.Config{Authenticator: tokenAuthenticator{tokens: tokens}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+pair.Access)
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, id.String(), body(t, res))
}

func TestJWTWare_MissingToken(t *testing.T) {
	tokens := newTokens(t)
	var captured error

	app := newApp(jwtware.Config{
		Authenticator: tokenAuthenticator{tokens: tokens},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			captured = err
			return c.SendStatus(auth.ClassOf(err).HTTPStatus())
		},
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.True(t, auth.IsMalformedError(captured))
}

func TestJWTWare_WrongScheme(t *testing.T) {
	tokens := newTokens(t)
	pair := issue(t, tokens, uuid.New())

	app := newApp(jwtware.Config{Authenticator: tokenAuthenticator{tokens: tokens}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Basic "+pair.Access)
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestJWTWare_RefreshTokenRejected(t *testing.T) {
	tokens := newTokens(t)
	pair := issue(t, tokens, uuid.New())
	var captured error

	app := newApp(jwtware.Config{
		Authenticator: tokenAuthenticator{tokens: tokens},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			captured = err
			return c.SendStatus(auth.ClassOf(err).HTTPStatus())
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+pair.Refresh)
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, auth.KindTokenKindMismatch, auth.KindOf(captured))
}

func TestJWTWare_CookieLookup(t *testing.T) {
	tokens := newTokens(t)
	id := uuid.New()
	pair := issue(t, tokens, id)

	app := newApp(jwtware.Config{
		Authenticator: tokenAuthenticator{tokens: tokens},
		TokenLookup:   "header:Authorization,cookie:access_token",
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: pair.Access})
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, id.String(), body(t, res))
}

func TestJWTWare_QueryLookup(t *testing.T) {
	tokens := newTokens(t)
	id := uuid.New()
	pair := issue(t, tokens, id)

	app := newApp(jwtware.Config{
		Authenticator: tokenAuthenticator{tokens: tokens},
		TokenLookup:   "query:auth_token",
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/me?auth_token="+pair.Access, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestJWTWare_Filter(t *testing.T) {
	tokens := newTokens(t)

	app := fiber.New()
	app.Get("/open", jwtware.New(jwtware.Config{
		Authenticator: tokenAuthenticator{tokens: tokens},
		Filter:        func(*fiber.Ctx) bool { return true },
	}), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/open", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestJWTWare_ValidationListenerError(t *testing.T) {
	tokens := newTokens(t)
	pair := issue(t, tokens, uuid.New())
	listenerErr := errors.New("listener failed")
	var captured error

	app := newApp(jwtware.Config{
		Authenticator: tokenAuthenticator{tokens: tokens},
		ValidationListeners: []jwtware.ValidationListener{
			func(*fiber.Ctx, *auth.Principal, *auth.Claims) error { return listenerErr },
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			captured = err
			return c.SendStatus(http.StatusTeapot)
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+pair.Access)
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, res.StatusCode)
	assert.ErrorIs(t, captured, listenerErr)
}

func TestGetExtractorsSkipsUnknownSources(t *testing.T) {
	extractors := jwtware.GetExtractors("header:Authorization, bogus:x, cookie:jwt, nocolon")
	assert.Len(t, extractors, 2)
}

func TestGetDefaultConfigRequiresAuthenticator(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.GetDefaultConfig(jwtware.Config{})
	})
}
