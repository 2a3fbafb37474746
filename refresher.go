package auth

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var errRotationLost = errors.New("refresh session already consumed")

// SessionRefresher exchanges a refresh token for a new token pair. With
// rotation tracking every refresh token can be exchanged once.
type SessionRefresher struct {
	tokens         TokenService
	resolver       *ActorResolver
	sessions       RefreshSessions
	txm            repository.TransactionManager
	rotation       bool
	reuseDetection bool
	reuseGrace     time.Duration
	now            func() time.Time
	audit          *AuditRecorder
	activity       ActivitySink
	logger         Logger
	provider       LoggerProvider
}

// NewSessionRefresher creates a refresher with rotation tracking and
// reuse detection enabled.
func NewSessionRefresher(tokens TokenService, resolver *ActorResolver, repos RepositoryManager) *SessionRefresher {
	provider, logger := ResolveLogger("auth.refresher", nil, nil)
	return &SessionRefresher{
		tokens:         tokens,
		resolver:       resolver,
		sessions:       repos.RefreshSessions(),
		txm:            repos,
		rotation:       true,
		reuseDetection: true,
		reuseGrace:     DefaultReuseGrace,
		now:            time.Now,
		activity:       noopActivitySink{},
		logger:         logger,
		provider:       provider,
	}
}

// WithRotationTracking toggles single use refresh tokens. When disabled
// any valid unexpired refresh token can be exchanged.
func (r *SessionRefresher) WithRotationTracking(enabled bool) *SessionRefresher {
	r.rotation = enabled
	return r
}

// WithReuseDetection toggles revoking a whole family when a consumed
// refresh token is presented again.
func (r *SessionRefresher) WithReuseDetection(enabled bool) *SessionRefresher {
	r.reuseDetection = enabled
	return r
}

// WithReuseGrace sets how long after a rotation a replay of the consumed
// token is rejected without revoking the family. Clients racing the same
// refresh token land here.
func (r *SessionRefresher) WithReuseGrace(d time.Duration) *SessionRefresher {
	if d < 0 {
		d = 0
	}
	r.reuseGrace = d
	return r
}

func (r *SessionRefresher) WithAuditRecorder(a *AuditRecorder) *SessionRefresher {
	r.audit = a
	return r
}

func (r *SessionRefresher) WithActivitySink(sink ActivitySink) *SessionRefresher {
	r.activity = normalizeActivitySink(sink)
	return r
}

func (r *SessionRefresher) WithClock(now func() time.Time) *SessionRefresher {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *SessionRefresher) WithLogger(l Logger) *SessionRefresher {
	r.provider, r.logger = ResolveLogger("auth.refresher", r.provider, l)
	return r
}

func (r *SessionRefresher) WithLoggerProvider(provider LoggerProvider) *SessionRefresher {
	r.provider, r.logger = ResolveLogger("auth.refresher", provider, r.logger)
	return r
}

// RotationTracking reports whether refresh tokens are single use
func (r *SessionRefresher) RotationTracking() bool {
	return r.rotation
}

// Refresh verifies raw, resolves the live principal and returns a new
// pair in the same family.
func (r *SessionRefresher) Refresh(ctx context.Context, raw string) (*Principal, *TokenPair, error) {
	claims, err := r.tokens.Verify(raw, TokenRefresh)
	if err != nil {
		return nil, nil, err
	}

	principal, err := r.resolver.Resolve(ctx, claims.Subject())
	if err != nil {
		return nil, nil, err
	}

	if principal.IsSuspended() {
		return nil, nil, ErrAccountSuspended
	}

	if !r.rotation {
		pair, err := r.tokens.Issue(principal.Subject(), "")
		if err != nil {
			return nil, nil, err
		}
		return principal, pair, nil
	}

	session, err := r.lookup(ctx, claims, principal)
	if err != nil {
		return nil, nil, err
	}

	pair, err := r.tokens.Issue(principal.Subject(), session.FamilyID.String())
	if err != nil {
		return nil, nil, err
	}

	nextID, err := uuid.Parse(pair.RefreshID)
	if err != nil {
		return nil, nil, withCause(ErrInternal, err, nil)
	}

	err = r.txm.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ok, err := r.sessions.ConsumeTx(ctx, tx, session.ID, nextID, r.now())
		if err != nil {
			return err
		}
		if !ok {
			return errRotationLost
		}
		_, err = r.sessions.OpenTx(ctx, tx, &RefreshSession{
			ID:          nextID,
			PrincipalID: principal.ID,
			FamilyID:    session.FamilyID,
			ExpiresAt:   pair.RefreshableUntil,
		})
		return err
	})

	if errors.Is(err, errRotationLost) {
		r.logger.Info("concurrent refresh lost rotation", "principal_id", principal.ID.String())
		return nil, nil, ErrTokenInvalid
	}

	if err != nil {
		return nil, nil, storeError(err, "refresh.rotate")
	}

	return principal, pair, nil
}

// lookup loads the tracked session behind the token and rejects used,
// revoked or foreign sessions.
func (r *SessionRefresher) lookup(ctx context.Context, claims *Claims, principal *Principal) (*RefreshSession, error) {
	id, err := uuid.Parse(claims.TokenID())
	if err != nil {
		return nil, ErrTokenInvalid
	}

	session, err := r.sessions.Find(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenInvalid
		}
		return nil, storeError(err, "refresh.lookup")
	}

	if session.PrincipalID != principal.ID || session.IsRevoked() {
		return nil, ErrTokenInvalid
	}

	if session.IsUsed() {
		r.handleReuse(ctx, principal, session)
		return nil, ErrTokenInvalid
	}

	return session, nil
}

// handleReuse revokes the family of a replayed refresh token.
func (r *SessionRefresher) handleReuse(ctx context.Context, principal *Principal, session *RefreshSession) {
	if !r.reuseDetection {
		return
	}

	if r.withinGrace(session) {
		r.logger.Info("refresh token replayed within grace window",
			"principal_id", principal.ID.String(),
			"family_id", session.FamilyID.String(),
		)
		return
	}

	revoked, err := r.sessions.RevokeFamily(ctx, session.FamilyID, r.now())
	if err != nil {
		r.logger.Error("unable to revoke refresh family", "family_id", session.FamilyID.String(), "error", err)
	}

	r.logger.Warn("refresh token reuse detected",
		"principal_id", principal.ID.String(),
		"family_id", session.FamilyID.String(),
		"revoked", revoked,
	)

	emitActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType:   ActivityEventRefreshReuse,
		Actor:       ActorOf(principal),
		PrincipalID: principal.ID.String(),
		TenantID:    principal.TenantID,
		Metadata: map[string]any{
			"family_id": session.FamilyID.String(),
			"revoked":   revoked,
		},
	})

	if r.audit != nil {
		r.audit.Record(ctx, AuditEntry{
			ActorID:    principal.ID.String(),
			TenantID:   principal.TenantID,
			Action:     ActionRefreshTokenReuse,
			TargetType: "refresh_session",
			TargetID:   session.ID.String(),
			Payload: map[string]any{
				"family_id": session.FamilyID.String(),
				"revoked":   revoked,
			},
		})
	}
}

func (r *SessionRefresher) withinGrace(session *RefreshSession) bool {
	if r.reuseGrace <= 0 || session.UsedAt == nil || session.ReplacedBy == nil {
		return false
	}
	return r.now().Sub(*session.UsedAt) < r.reuseGrace
}

// Track stores the refresh session of a freshly issued pair.
func (r *SessionRefresher) Track(ctx context.Context, principal *Principal, pair *TokenPair) error {
	return r.TrackTx(ctx, nil, principal, pair)
}

// TrackTx stores the refresh session inside tx. A nil tx uses the
// default connection.
func (r *SessionRefresher) TrackTx(ctx context.Context, tx bun.IDB, principal *Principal, pair *TokenPair) error {
	if !r.rotation {
		return nil
	}

	id, err := uuid.Parse(pair.RefreshID)
	if err != nil {
		return withCause(ErrInternal, err, nil)
	}

	family, err := uuid.Parse(pair.FamilyID)
	if err != nil {
		return withCause(ErrInternal, err, nil)
	}

	record := &RefreshSession{
		ID:          id,
		PrincipalID: principal.ID,
		FamilyID:    family,
		ExpiresAt:   pair.RefreshableUntil,
	}

	if tx == nil {
		_, err = r.sessions.Open(ctx, record)
	} else {
		_, err = r.sessions.OpenTx(ctx, tx, record)
	}
	if err != nil {
		return storeError(err, "refresh.track")
	}
	return nil
}

// Revoke ends the family of a refresh token. Without rotation tracking
// there is nothing to revoke.
func (r *SessionRefresher) Revoke(ctx context.Context, raw string) (*Principal, error) {
	claims, err := r.tokens.Verify(raw, TokenRefresh)
	if err != nil {
		return nil, err
	}

	principal, err := r.resolver.Resolve(ctx, claims.Subject())
	if err != nil {
		return nil, err
	}

	if !r.rotation {
		return principal, nil
	}

	id, err := uuid.Parse(claims.TokenID())
	if err != nil {
		return nil, ErrTokenInvalid
	}

	session, err := r.sessions.Find(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenInvalid
		}
		return nil, storeError(err, "refresh.lookup")
	}

	if session.PrincipalID != principal.ID {
		return nil, ErrTokenInvalid
	}

	if _, err := r.sessions.RevokeFamily(ctx, session.FamilyID, r.now()); err != nil {
		return nil, storeError(err, "refresh.revoke")
	}

	return principal, nil
}
