package csrf_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-authcore/middleware/csrf"
)

func TestRegisterRoutesServesToken(t *testing.T) {
	app := fiber.New()
	app.Use(csrf.New(csrf.Config{SecureKey: secureKey, HeaderName: "X-XSRF-Token"}))
	csrf.RegisterRoutes(app)

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/csrf", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "no-store, max-age=0", res.Header.Get(fiber.HeaderCacheControl))

	var payload map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	assert.Equal(t, res.Header.Get("X-XSRF-Token"), payload["token"])
	assert.Equal(t, csrf.DefaultFormFieldName, payload["field_name"])
	assert.Equal(t, "X-XSRF-Token", payload["header_name"])
}

func TestTokenHandlerWithoutMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/token", csrf.TokenHandler(csrf.RouteConfig{Path: "/token"}))

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/token", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
