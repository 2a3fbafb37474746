package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and verifies access and refresh tokens. One
// configuration is shared by every role kind.
type TokenService interface {
	Issue(subject Subject, familyID string) (*TokenPair, error)
	Verify(raw string, kind TokenKind) (*Claims, error)
}

// TokenServiceImpl signs HS256 tokens
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     Logger
}

var _ TokenService = (*TokenServiceImpl)(nil)

// TokenServiceOption customizes the token service
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock overrides the clock used to stamp and check tokens.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config, opts ...TokenServiceOption) *TokenServiceImpl {
	var aud jwt.ClaimStrings
	if audience := cfg.GetAudience(); len(audience) > 0 {
		aud = make(jwt.ClaimStrings, len(audience))
		copy(aud, audience)
	}

	ts := &TokenServiceImpl{
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		audience:   aud,
		accessTTL:  cfg.GetAccessTokenTTL(),
		refreshTTL: cfg.GetRefreshTokenTTL(),
		now:        time.Now,
		logger:     defLogger{scope: "tokens"},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// Issue creates an access and refresh token for subject. An empty
// familyID starts a new rotation family.
func (ts *TokenServiceImpl) Issue(subject Subject, familyID string) (*TokenPair, error) {
	if subject.ID == "" || subject.Kind == "" {
		return nil, goerrors.New("subject id and kind are required", goerrors.CategoryInternal).
			WithTextCode(TextCodeInternal).
			WithCode(goerrors.CodeInternal)
	}

	if familyID == "" {
		familyID = uuid.NewString()
	}

	now := ts.now()
	accessExp := now.Add(ts.accessTTL)
	refreshExp := now.Add(ts.refreshTTL)

	access, _, err := ts.sign(subject, TokenAccess, now, accessExp)
	if err != nil {
		return nil, err
	}

	refresh, refreshID, err := ts.sign(subject, TokenRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		Access:           access,
		Refresh:          refresh,
		ExpiredAt:        accessExp,
		RefreshableUntil: refreshExp,
		RefreshID:        refreshID,
		FamilyID:         familyID,
	}, nil
}

func (ts *TokenServiceImpl) sign(subject Subject, kind TokenKind, issuedAt, expiresAt time.Time) (string, string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   subject.ID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Role:     subject.Kind,
		TenantID: subject.TenantID,
		Type:     kind,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT").
			WithTextCode(TextCodeInternal).
			WithCode(goerrors.CodeInternal)
	}

	return signed, claims.RegisteredClaims.ID, nil
}

// Verify checks signature, issuer, audience and expiry, then the claim
// shape and finally that the token is of the expected kind.
func (ts *TokenServiceImpl) Verify(raw string, kind TokenKind) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token verify encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return nil, classifyParseError(err)
	}

	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if err := checkClaimShape(claims); err != nil {
		return nil, err
	}

	if claims.Type != kind {
		return nil, withCause(ErrTokenKindMismatch, nil, map[string]any{
			"expected": string(kind),
			"actual":   string(claims.Type),
		})
	}

	return claims, nil
}

// classifyParseError maps jwt parser errors onto token kinds. Token
// contents never end up in the returned error.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return withCause(ErrTokenMalformed, err, nil)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return withCause(ErrTokenInvalid, err, nil)
	case errors.Is(err, jwt.ErrTokenExpired):
		return withCause(ErrTokenExpired, err, nil)
	default:
		return withCause(ErrTokenInvalid, err, nil)
	}
}
