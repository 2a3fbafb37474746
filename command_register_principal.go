package auth

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used for profile phone numbers without a country prefix
var DefaultPhoneRegion = "US"

// maxSecretLength is the bcrypt input limit
const maxSecretLength = 72

// RegisterRequest creates a principal of one role kind.
type RegisterRequest struct {
	Kind       RoleKind       `json:"kind"`
	Identifier string         `json:"identifier"`
	Secret     string         `json:"secret"`
	TenantID   string         `json:"tenant_id"`
	Profile    map[string]any `json:"profile"`
	UseHashid  bool           `json:"-"`
}

func (e RegisterRequest) Type() string { return "principal.register" }

// Validate checks the request shape against the registry.
func (e RegisterRequest) Validate(roles *RoleRegistry) error {
	spec, known := roles.Lookup(e.Kind)

	err := validation.ValidateStruct(&e,
		validation.Field(&e.Kind,
			validation.Required,
			validation.By(func(any) error {
				if !known {
					return fmt.Errorf("unknown role kind")
				}
				return nil
			}),
		),
		validation.Field(&e.Identifier, validation.Required, validation.Length(3, 254)),
		validation.Field(&e.Secret, validation.Required, validation.Length(1, maxSecretLength)),
		validation.Field(&e.TenantID, validation.By(func(any) error {
			if !known {
				return nil
			}
			tenant := strings.TrimSpace(e.TenantID)
			if spec.TenantScoped && tenant == "" {
				return fmt.Errorf("is required for %s", e.Kind)
			}
			if !spec.TenantScoped && tenant != "" {
				return fmt.Errorf("must be empty for %s", e.Kind)
			}
			return nil
		})),
		validation.Field(&e.Profile, validation.By(validateProfilePhone)),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

func validateProfilePhone(value any) error {
	profile, _ := value.(map[string]any)
	raw, ok := profile["phone"]
	if !ok {
		return nil
	}
	phone, ok := raw.(string)
	if !ok {
		return fmt.Errorf("phone must be a string")
	}
	if _, err := normalizePhone(phone); err != nil {
		return fmt.Errorf("phone: %v", err)
	}
	return nil
}

// normalizePhone returns the E.164 form of phone.
func normalizePhone(phone string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(phone), DefaultPhoneRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// RegisterPrincipalHandler persists a new principal, its profile and the
// first refresh session in one audited transaction.
type RegisterPrincipalHandler struct {
	repos     RepositoryManager
	roles     *RoleRegistry
	hasher    PasswordAuthenticator
	tokens    TokenService
	refresher *SessionRefresher
	audit     *AuditRecorder
	hashid    []hashid.Option
}

// Execute registers the principal described by event.
func (h *RegisterPrincipalHandler) Execute(ctx context.Context, event RegisterRequest) (*Principal, *PrincipalProfile, *TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, storeError(err, "register")
	}

	if err := event.Validate(h.roles); err != nil {
		return nil, nil, nil, err
	}

	hash, err := h.hasher.HashPassword(event.Secret)
	if err != nil {
		return nil, nil, nil, err
	}

	principal := &Principal{
		Kind:       event.Kind,
		Identifier: normalizeIdentifier(event.Identifier),
		TenantID:   strings.TrimSpace(event.TenantID),
		Status:     StatusActive,
		SecretHash: hash,
	}

	if event.UseHashid {
		seed := strings.Join([]string{string(principal.Kind), principal.TenantID, principal.Identifier}, "|")
		id, err := hashid.NewUUID(seed, h.hashid...)
		if err != nil {
			return nil, nil, nil, withCause(ErrInternal, err, map[string]any{"operation": "register.hashid"})
		}
		principal.ID = id
	}
	if principal.ID == uuid.Nil {
		principal.ID = uuid.New()
	}

	profile, err := buildProfile(principal, event.Profile)
	if err != nil {
		return nil, nil, nil, err
	}

	pair, err := h.tokens.Issue(principal.Subject(), "")
	if err != nil {
		return nil, nil, nil, err
	}

	entry := AuditEntry{
		ActorID:    principal.ID.String(),
		TenantID:   principal.TenantID,
		Action:     ActionRegister,
		TargetType: "principal",
		TargetID:   principal.ID.String(),
		Payload: map[string]any{
			"kind": string(principal.Kind),
		},
	}

	err = h.audit.Mutate(ctx, entry, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repos.Principals().RegisterTx(ctx, tx, principal); err != nil {
			if isUniqueViolation(err) {
				return withCause(ErrConflict, nil, map[string]any{
					"kind":      string(principal.Kind),
					"tenant_id": principal.TenantID,
				})
			}
			return storeError(err, "register.principal")
		}

		if profile != nil {
			if _, err := h.repos.Profiles().SaveTx(ctx, tx, profile); err != nil {
				return storeError(err, "register.profile")
			}
		}

		return h.refresher.TrackTx(ctx, tx, principal, pair)
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return principal, profile, pair, nil
}

func buildProfile(principal *Principal, fields map[string]any) (*PrincipalProfile, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	if raw, ok := out["phone"].(string); ok {
		phone, err := normalizePhone(raw)
		if err != nil {
			return nil, withCause(ErrValidation, err, map[string]any{
				"fields": map[string]any{"profile": "phone: invalid number"},
			})
		}
		out["phone"] = phone
	}

	return &PrincipalProfile{
		PrincipalID: principal.ID,
		Kind:        principal.Kind,
		Fields:      out,
	}, nil
}
