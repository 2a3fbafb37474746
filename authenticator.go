package auth

import (
	"context"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// Authorized is the envelope returned by register, login and refresh.
type Authorized struct {
	PublicPrincipal
	Token *TokenPair `json:"token"`
}

// LoginRequest holds login credentials
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	TenantID   string `json:"tenant_id,omitempty"`
}

// ServiceOption customizes how the service builds its components.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	hasher   PasswordAuthenticator
	roles    *RoleRegistry
	now      func() time.Time
	metrics  *Metrics
	activity ActivitySink
	logger   Logger
	provider LoggerProvider
	hashid   []hashid.Option
}

// WithPasswordHasher overrides the bcrypt hasher
func WithPasswordHasher(h PasswordAuthenticator) ServiceOption {
	return func(o *serviceOptions) {
		if h != nil {
			o.hasher = h
		}
	}
}

// WithRoleRegistry overrides the set of role kinds
func WithRoleRegistry(r *RoleRegistry) ServiceOption {
	return func(o *serviceOptions) {
		if r != nil {
			o.roles = r
		}
	}
}

// WithClock injects the clock used for tokens, sessions and audit stamps
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *Metrics) ServiceOption {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithActivity configures the ActivitySink shared by every component
func WithActivity(sink ActivitySink) ServiceOption {
	return func(o *serviceOptions) {
		o.activity = sink
	}
}

// WithServiceLogger sets the fallback logger
func WithServiceLogger(l Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = l
	}
}

// WithHashidOptions configures how ids are derived for requests that set
// UseHashid, for example an HMAC key.
func WithHashidOptions(opts ...hashid.Option) ServiceOption {
	return func(o *serviceOptions) {
		o.hashid = append(o.hashid, opts...)
	}
}

// WithServiceLoggerProvider sets the provider used for scoped loggers
func WithServiceLoggerProvider(p LoggerProvider) ServiceOption {
	return func(o *serviceOptions) {
		o.provider = p
	}
}

// Service is the entry point of the core: register, login, refresh,
// logout, authenticate and authorize.
type Service struct {
	cfg            Config
	repos          RepositoryManager
	roles          *RoleRegistry
	tokens         *TokenServiceImpl
	verifier       *CredentialVerifier
	resolver       *ActorResolver
	guard          *Guard
	refresher      *SessionRefresher
	audit          *AuditRecorder
	lifecycle      *Lifecycle
	register       *RegisterPrincipalHandler
	metrics        *Metrics
	activity       ActivitySink
	denialAuditing bool
	logger         Logger
	provider       LoggerProvider
}

// NewService wires every component from cfg and repos
func NewService(cfg Config, repos RepositoryManager, opts ...ServiceOption) *Service {
	o := &serviceOptions{
		hasher: NewBcryptHasher(),
		roles:  NewRoleRegistry(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	provider, logger := ResolveLogger("auth.service", o.provider, o.logger)
	activity := normalizeActivitySink(o.activity)

	tokens := NewTokenService(cfg,
		WithTokenClock(o.now),
		WithTokenLogger(scopedLogger("auth.tokens", provider, o.logger)),
	)

	audit := NewAuditRecorder(repos).
		WithLoggerProvider(provider).
		WithLogger(o.logger).
		WithMetrics(o.metrics).
		WithActivitySink(activity).
		WithAtomicActions(cfg.GetAtomicAuditActions()...).
		WithClock(o.now)
	if tc, ok := cfg.(interface{ GetAuditWriteTimeout() time.Duration }); ok {
		audit.WithWriteTimeout(tc.GetAuditWriteTimeout())
	}

	resolver := NewActorResolver(repos.Principals())

	refresher := NewSessionRefresher(tokens, resolver, repos).
		WithRotationTracking(cfg.GetRotationTracking()).
		WithReuseDetection(cfg.GetReuseDetection()).
		WithAuditRecorder(audit).
		WithActivitySink(activity).
		WithClock(o.now).
		WithLoggerProvider(provider).
		WithLogger(o.logger)
	if gc, ok := cfg.(interface{ GetReuseGrace() time.Duration }); ok {
		refresher.WithReuseGrace(gc.GetReuseGrace())
	}

	lifecycle := NewLifecycle(repos, audit).
		WithActivitySink(activity).
		WithClock(o.now).
		WithLoggerProvider(provider).
		WithLogger(o.logger)

	verifier := NewCredentialVerifier(repos.Principals(), o.hasher).
		WithLoggerProvider(provider).
		WithLogger(o.logger)

	return &Service{
		cfg:       cfg,
		repos:     repos,
		roles:     o.roles,
		tokens:    tokens,
		verifier:  verifier,
		resolver:  resolver,
		guard:     NewGuard(),
		refresher: refresher,
		audit:     audit,
		lifecycle: lifecycle,
		register: &RegisterPrincipalHandler{
			repos:     repos,
			roles:     o.roles,
			hasher:    o.hasher,
			tokens:    tokens,
			refresher: refresher,
			audit:     audit,
			hashid:    o.hashid,
		},
		metrics:        o.metrics,
		activity:       activity,
		denialAuditing: cfg.GetDenialAuditing(),
		logger:         logger,
		provider:       provider,
	}
}

func scopedLogger(name string, provider LoggerProvider, fallback Logger) Logger {
	_, logger := ResolveLogger(name, provider, fallback)
	return logger
}

// WithDenialAuditing toggles ACCESS_DENIED audit entries
func (s *Service) WithDenialAuditing(enabled bool) *Service {
	s.denialAuditing = enabled
	return s
}

// TokenService returns the TokenService instance used by this Service
func (s *Service) TokenService() TokenService {
	return s.tokens
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) Roles() *RoleRegistry {
	return s.roles
}

func (s *Service) Guard() *Guard {
	return s.guard
}

func (s *Service) Audit() *AuditRecorder {
	return s.audit
}

func (s *Service) Lifecycle() *Lifecycle {
	return s.lifecycle
}

func (s *Service) Refresher() *SessionRefresher {
	return s.refresher
}

func (s *Service) Resolver() *ActorResolver {
	return s.resolver
}

// Register creates a principal and logs it in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Authorized, error) {
	principal, profile, pair, err := s.register.Execute(ctx, req)
	s.metrics.ObserveAttempt("register", err)
	if err != nil {
		s.logger.Warn("register failed", "kind", req.Kind, "error_kind", KindOf(err))
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventRegister, principal, map[string]any{
		"kind": string(principal.Kind),
	})

	return s.authorized(principal, profile, pair), nil
}

// Login verifies credentials and issues a new token family.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Authorized, error) {
	out, err := s.login(ctx, req)
	s.metrics.ObserveAttempt("login", err)
	return out, err
}

func (s *Service) login(ctx context.Context, req LoginRequest) (*Authorized, error) {
	principal, err := s.verifier.Verify(ctx, Credentials{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		TenantID:   req.TenantID,
	})
	if err != nil {
		s.logger.Info("login failed", "error_kind", KindOf(err))
		emitActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			TenantID:  req.TenantID,
			Metadata: map[string]any{
				"identifier": normalizeIdentifier(req.Identifier),
				"error_kind": string(KindOf(err)),
			},
		})
		return nil, err
	}

	pair, err := s.tokens.Issue(principal.Subject(), "")
	if err != nil {
		return nil, err
	}

	if err := s.refresher.Track(ctx, principal, pair); err != nil {
		return nil, err
	}

	profile, err := s.profile(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, principal, map[string]any{
		"identifier": principal.Identifier,
	})

	return s.authorized(principal, profile, pair), nil
}

// Refresh exchanges a refresh token for a rotated pair.
func (s *Service) Refresh(ctx context.Context, refresh string) (*Authorized, error) {
	principal, pair, err := s.refresher.Refresh(ctx, refresh)
	s.metrics.ObserveAttempt("refresh", err)
	if err != nil {
		s.logger.Info("refresh failed", "error_kind", KindOf(err))
		emitActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventRefreshFailure,
			Actor:     ActorRef{Type: "unknown"},
			Metadata: map[string]any{
				"error_kind": string(KindOf(err)),
			},
		})
		return nil, err
	}

	profile, err := s.profile(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventRefreshSuccess, principal, map[string]any{
		"family_id": pair.FamilyID,
	})

	return s.authorized(principal, profile, pair), nil
}

// Logout revokes the family of the refresh token.
func (s *Service) Logout(ctx context.Context, refresh string) error {
	principal, err := s.refresher.Revoke(ctx, refresh)
	if err != nil {
		return err
	}
	s.emitAuthEvent(ctx, ActivityEventLogout, principal, nil)
	return nil
}

// Authenticate verifies an access token and returns the live principal.
func (s *Service) Authenticate(ctx context.Context, access string) (*Principal, error) {
	principal, _, err := s.AuthenticateClaims(ctx, access)
	return principal, err
}

// AuthenticateClaims is Authenticate that also returns the verified claims.
func (s *Service) AuthenticateClaims(ctx context.Context, access string) (*Principal, *Claims, error) {
	claims, err := s.tokens.Verify(access, TokenAccess)
	if err != nil {
		s.metrics.ObserveAttempt("authenticate", err)
		return nil, nil, err
	}

	principal, err := s.resolver.Resolve(ctx, claims.Subject())
	if err == nil && principal.IsSuspended() {
		err = ErrAccountSuspended
	}
	s.metrics.ObserveAttempt("authenticate", err)
	if err != nil {
		return nil, nil, err
	}

	return principal, claims, nil
}

// Authorize applies rule to resource for principal. With denial auditing
// each denial of a known principal leaves one ACCESS_DENIED entry.
func (s *Service) Authorize(ctx context.Context, principal *Principal, rule AccessRule, resource *Resource) error {
	err := s.guard.Check(principal, rule, resource)
	s.metrics.ObserveDecision(err)
	if err == nil {
		return nil
	}

	kind := KindOf(err)
	if kind != KindForbidden && kind != KindNotFound {
		return err
	}

	s.logger.Info("access denied", "action", rule.Action, "principal_id", principal.ID.String(), "error_kind", kind)

	target := AuditEntry{
		ActorID:    principal.ID.String(),
		TenantID:   principal.TenantID,
		Action:     ActionAccessDenied,
		TargetType: rule.Action,
		Payload: map[string]any{
			"action":     rule.Action,
			"error_kind": string(kind),
		},
	}
	if resource != nil {
		target.TargetType = resource.Type
		target.TargetID = resource.ID
	}

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:   ActivityEventAccessDenied,
		Actor:       ActorOf(principal),
		PrincipalID: principal.ID.String(),
		TenantID:    principal.TenantID,
		Metadata: map[string]any{
			"action":      rule.Action,
			"error_kind":  string(kind),
			"target_type": target.TargetType,
			"target_id":   target.TargetID,
		},
	})

	if s.denialAuditing {
		s.audit.Record(ctx, target)
	}

	return err
}

// Me returns the public projection of principal with its profile.
func (s *Service) Me(ctx context.Context, principal *Principal) (PublicPrincipal, error) {
	profile, err := s.profile(ctx, principal.ID)
	if err != nil {
		return PublicPrincipal{}, err
	}
	return principal.Public(profile), nil
}

func (s *Service) profile(ctx context.Context, id uuid.UUID) (*PrincipalProfile, error) {
	profile, err := s.repos.Profiles().GetByPrincipal(ctx, id)
	if err != nil {
		return nil, storeError(err, "profile.load")
	}
	return profile, nil
}

func (s *Service) authorized(principal *Principal, profile *PrincipalProfile, pair *TokenPair) *Authorized {
	return &Authorized{
		PublicPrincipal: principal.Public(profile),
		Token:           pair,
	}
}

func (s *Service) emitAuthEvent(ctx context.Context, eventType ActivityEventType, principal *Principal, metadata map[string]any) {
	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:   eventType,
		Actor:       ActorOf(principal),
		PrincipalID: principal.ID.String(),
		TenantID:    principal.TenantID,
		Metadata:    metadata,
	})
}
