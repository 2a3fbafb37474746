package httpapi

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/middleware/csrf"
	"github.com/goliatone/go-authcore/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes holds the paths mounted by Handler.Mount.
type Routes struct {
	Register string
	Login    string
	Refresh  string
	Logout   string
	Me       string
	Metrics  string
	CSRF     string
}

// CookieConfig controls token cookies. When enabled, login, register and
// refresh set the access and refresh cookies and Protected also reads the
// access token from its cookie.
//
// With a CSRFKey, refresh and logout requests that carry the refresh cookie
// must also send the token served on Routes.CSRF.
type CookieConfig struct {
	Enabled     bool
	AccessName  string
	RefreshName string
	Secure      bool
	SameSite    string
	CSRFKey     []byte
}

// Handler exposes the Service over fiber.
type Handler struct {
	svc        *auth.Service
	logger     auth.Logger
	routes     Routes
	cookies    CookieConfig
	contextKey string
	gatherer   prometheus.Gatherer
}

type Option func(*Handler)

func WithLogger(logger auth.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithRoutes(routes Routes) Option {
	return func(h *Handler) {
		h.routes = routes
	}
}

func WithCookies(cfg CookieConfig) Option {
	return func(h *Handler) {
		h.cookies = cfg
	}
}

// WithMetricsGatherer exposes the gatherer on Routes.Metrics
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

// New creates the HTTP handler for svc
func New(svc *auth.Service, opts ...Option) *Handler {
	_, logger := auth.ResolveLogger("auth.http", nil, nil)
	h := &Handler{
		svc:    svc,
		logger: logger,
		routes: Routes{
			Register: "/auth/register/:kind",
			Login:    "/auth/login",
			Refresh:  "/auth/refresh",
			Logout:   "/auth/logout",
			Me:       "/auth/me",
			Metrics:  "/metrics",
			CSRF:     "/auth/csrf",
		},
		cookies: CookieConfig{
			AccessName:  "access_token",
			RefreshName: "refresh_token",
			Secure:      true,
			SameSite:    "Lax",
		},
		contextKey: "principal",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

// NewApp returns a fiber app with the handler error handler installed and
// the routes mounted.
func NewApp(svc *auth.Service, opts ...Option) (*fiber.App, *Handler) {
	h := New(svc, opts...)
	app := fiber.New(fiber.Config{
		ErrorHandler: h.ErrorHandler,
	})
	h.Mount(app)
	return app, h
}

// Mount registers the auth routes on r
func (h *Handler) Mount(r fiber.Router) {
	r.Post(h.routes.Register, h.Register)
	r.Post(h.routes.Login, h.Login)
	r.Get(h.routes.Me, h.Protected(), h.Me)

	if h.csrfEnabled() {
		guard := h.csrf(func(c *fiber.Ctx) bool {
			return c.Cookies(h.cookies.RefreshName) == ""
		})
		r.Post(h.routes.Refresh, guard, h.Refresh)
		r.Post(h.routes.Logout, guard, h.Logout)
		if h.routes.CSRF != "" {
			r.Get(h.routes.CSRF, h.csrf(nil), csrf.TokenHandler())
		}
	} else {
		r.Post(h.routes.Refresh, h.Refresh)
		r.Post(h.routes.Logout, h.Logout)
	}

	if h.gatherer != nil && h.routes.Metrics != "" {
		r.Get(h.routes.Metrics, adaptor.HTTPHandler(
			promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}),
		))
	}
}

// Protected authenticates the access token and stores the principal in
// the request locals and user context.
func (h *Handler) Protected() fiber.Handler {
	lookup := "header:" + fiber.HeaderAuthorization
	if h.cookies.Enabled && h.cookies.AccessName != "" {
		lookup += ",cookie:" + h.cookies.AccessName
	}

	return jwtware.New(jwtware.Config{
		Authenticator: h.svc,
		ContextKey:    h.contextKey,
		TokenLookup:   lookup,
		AuthScheme:    "Bearer",
		ErrorHandler:  h.ErrorHandler,
	})
}

func (h *Handler) csrfEnabled() bool {
	return h.cookies.Enabled && len(h.cookies.CSRFKey) > 0
}

func (h *Handler) csrf(skip func(*fiber.Ctx) bool) fiber.Handler {
	return csrf.New(csrf.Config{
		Skip:         skip,
		SecureKey:    h.cookies.CSRFKey,
		Expiration:   h.svc.Config().GetRefreshTokenTTL(),
		ErrorHandler: h.ErrorHandler,
	})
}

// ResourceLoader returns the resource a guarded route acts on. Return
// auth.MissingResource for rows that do not exist or are soft deleted.
type ResourceLoader func(c *fiber.Ctx, principal *auth.Principal) (*auth.Resource, error)

// Require runs the authorization guard. It must be mounted after Protected.
func (h *Handler) Require(rule auth.AccessRule, loader ResourceLoader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := jwtware.PrincipalFrom(c, h.contextKey)
		if !ok {
			return h.ErrorHandler(c, auth.ErrActorNotFound)
		}

		var resource *auth.Resource
		if loader != nil {
			res, err := loader(c, principal)
			if err != nil {
				return h.ErrorHandler(c, err)
			}
			resource = res
		}

		if err := h.svc.Authorize(c.UserContext(), principal, rule, resource); err != nil {
			return h.ErrorHandler(c, err)
		}

		return c.Next()
	}
}

// PrincipalFrom returns the principal stored by Protected.
func (h *Handler) PrincipalFrom(c *fiber.Ctx) (*auth.Principal, bool) {
	return jwtware.PrincipalFrom(c, h.contextKey)
}

type registerPayload struct {
	Identifier string         `json:"identifier"`
	Secret     string         `json:"secret"`
	TenantID   string         `json:"tenant_id"`
	Profile    map[string]any `json:"profile"`
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Register(c *fiber.Ctx) error {
	kind := c.Params("kind")
	if err := validation.Validate(kind, validation.Required, is.Alphanumeric); err != nil {
		return h.ErrorHandler(c, badRequest(err, "kind"))
	}

	var payload registerPayload
	if err := c.BodyParser(&payload); err != nil {
		return h.ErrorHandler(c, badRequest(err, "body"))
	}

	out, err := h.svc.Register(c.UserContext(), auth.RegisterRequest{
		Kind:       auth.RoleKind(kind),
		Identifier: payload.Identifier,
		Secret:     payload.Secret,
		TenantID:   payload.TenantID,
		Profile:    payload.Profile,
	})
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	h.setTokenCookies(c, out.Token)
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var payload auth.LoginRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.ErrorHandler(c, badRequest(err, "body"))
	}

	out, err := h.svc.Login(c.UserContext(), payload)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	h.setTokenCookies(c, out.Token)
	return c.JSON(out)
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	raw, err := h.refreshToken(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	out, err := h.svc.Refresh(c.UserContext(), raw)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	h.setTokenCookies(c, out.Token)
	return c.JSON(out)
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	raw, err := h.refreshToken(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	if err := h.svc.Logout(c.UserContext(), raw); err != nil {
		return h.ErrorHandler(c, err)
	}

	h.clearTokenCookies(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) Me(c *fiber.Ctx) error {
	principal, ok := h.PrincipalFrom(c)
	if !ok {
		return h.ErrorHandler(c, auth.ErrActorNotFound)
	}

	out, err := h.svc.Me(c.UserContext(), principal)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	return c.JSON(out)
}

func (h *Handler) refreshToken(c *fiber.Ctx) (string, error) {
	var payload refreshPayload
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return "", badRequest(err, "body")
		}
	}

	raw := strings.TrimSpace(payload.RefreshToken)
	if raw == "" && h.cookies.Enabled {
		raw = c.Cookies(h.cookies.RefreshName)
	}
	if raw == "" {
		return "", jwtware.ErrJWTMissingOrMalformed
	}
	return raw, nil
}

func (h *Handler) setTokenCookies(c *fiber.Ctx, pair *auth.TokenPair) {
	if !h.cookies.Enabled || pair == nil {
		return
	}
	h.cookie(c, h.cookies.AccessName, pair.Access, pair.ExpiredAt)
	h.cookie(c, h.cookies.RefreshName, pair.Refresh, pair.RefreshableUntil)
}

func (h *Handler) clearTokenCookies(c *fiber.Ctx) {
	if !h.cookies.Enabled {
		return
	}
	expired := time.Now().Add(-time.Hour * (24 * 365))
	h.cookie(c, h.cookies.AccessName, "", expired)
	h.cookie(c, h.cookies.RefreshName, "", expired)
}

func (h *Handler) cookie(c *fiber.Ctx, name, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: h.cookies.SameSite,
	})
}

func badRequest(err error, field string) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request").
		WithTextCode(auth.TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"fields": map[string]any{field: err.Error()},
		})
}
