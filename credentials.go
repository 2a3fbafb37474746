package auth

import (
	"context"
	"strings"
	"sync"
)

// Credentials is what a principal presents at login
type Credentials struct {
	Identifier string
	Secret     string
	TenantID   string
}

// PrincipalFinder looks up live principals by identifier
type PrincipalFinder interface {
	FindLive(ctx context.Context, identifier, tenantID string, limit int) ([]*Principal, error)
}

// CredentialVerifier checks an identifier and secret against the stored
// hash. Unknown identifiers, ambiguous matches and wrong secrets are
// indistinguishable to the caller.
type CredentialVerifier struct {
	store    PrincipalFinder
	hasher   PasswordAuthenticator
	logger   Logger
	provider LoggerProvider

	dummyOnce sync.Once
	dummy     string
}

// NewCredentialVerifier creates a verifier
func NewCredentialVerifier(store PrincipalFinder, hasher PasswordAuthenticator) *CredentialVerifier {
	provider, logger := ResolveLogger("auth.credentials", nil, nil)
	if hasher == nil {
		hasher = NewBcryptHasher()
	}
	return &CredentialVerifier{
		store:    store,
		hasher:   hasher,
		logger:   logger,
		provider: provider,
	}
}

func (v *CredentialVerifier) WithLogger(l Logger) *CredentialVerifier {
	v.provider, v.logger = ResolveLogger("auth.credentials", v.provider, l)
	return v
}

func (v *CredentialVerifier) WithLoggerProvider(provider LoggerProvider) *CredentialVerifier {
	v.provider, v.logger = ResolveLogger("auth.credentials", provider, v.logger)
	return v
}

// Verify returns the live principal owning the credentials.
func (v *CredentialVerifier) Verify(ctx context.Context, creds Credentials) (*Principal, error) {
	identifier := normalizeIdentifier(creds.Identifier)
	if identifier == "" || creds.Secret == "" {
		v.equalize(creds.Secret)
		return nil, ErrInvalidCredentials
	}

	matches, err := v.store.FindLive(ctx, identifier, strings.TrimSpace(creds.TenantID), 2)
	if err != nil {
		v.logger.Error("credential lookup failed", "error", err)
		return nil, storeError(err, "credentials.lookup")
	}

	if len(matches) != 1 {
		if len(matches) > 1 {
			v.logger.Warn("ambiguous credential lookup, tenant required", "matches", len(matches))
		}
		v.equalize(creds.Secret)
		return nil, ErrInvalidCredentials
	}

	principal := matches[0]
	if err := v.hasher.ComparePasswordAndHash(creds.Secret, principal.SecretHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if principal.IsSuspended() {
		return nil, withCause(ErrAccountSuspended, nil, map[string]any{
			"principal_id": principal.ID.String(),
		})
	}

	return principal, nil
}

// equalize spends one hash comparison so misses cost about as much as hits.
func (v *CredentialVerifier) equalize(secret string) {
	v.dummyOnce.Do(func() {
		hash, err := v.hasher.HashPassword("authcore-timing-equalizer")
		if err != nil {
			v.logger.Warn("unable to prepare dummy hash", "error", err)
			return
		}
		v.dummy = hash
	})
	if v.dummy != "" {
		_ = v.hasher.ComparePasswordAndHash(secret, v.dummy)
	}
}
