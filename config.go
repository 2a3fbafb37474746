package auth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"gopkg.in/yaml.v3"
)

const (
	DefaultIssuer            = "authcore"
	DefaultAccessTokenTTL    = time.Hour
	DefaultRefreshTokenTTL   = 7 * 24 * time.Hour
	DefaultAuditWriteTimeout = 5 * time.Second
	DefaultReuseGrace        = 2 * time.Second
	MinSigningKeyLength      = 32
)

// ActionPrincipalDelete is audited in the same transaction as the delete.
const ActionPrincipalDelete = "PRINCIPAL_DELETE"

// Options is the file and environment backed Config.
type Options struct {
	SigningKey         string        `yaml:"signing_key"`
	Issuer             string        `yaml:"issuer"`
	Audience           []string      `yaml:"audience"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl"`
	RotationTracking   *bool         `yaml:"rotation_tracking"`
	ReuseDetection     *bool         `yaml:"reuse_detection"`
	ReuseGrace         time.Duration `yaml:"reuse_grace"`
	DenialAuditing     bool          `yaml:"denial_auditing"`
	AtomicAuditActions []string      `yaml:"atomic_audit_actions"`
	AuditWriteTimeout  time.Duration `yaml:"audit_write_timeout"`
}

var _ Config = (*Options)(nil)

// DefaultOptions returns options with every default applied except the
// signing key, which has no safe default.
func DefaultOptions() *Options {
	return &Options{
		Issuer:             DefaultIssuer,
		AccessTokenTTL:     DefaultAccessTokenTTL,
		RefreshTokenTTL:    DefaultRefreshTokenTTL,
		RotationTracking:   boolPtr(true),
		ReuseDetection:     boolPtr(true),
		ReuseGrace:         DefaultReuseGrace,
		AtomicAuditActions: []string{ActionPrincipalDelete},
		AuditWriteTimeout:  DefaultAuditWriteTimeout,
	}
}

// LoadOptions reads a YAML file on top of the defaults, then applies
// AUTHCORE_* environment overrides and validates the result.
// An empty path skips the file.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading auth config: %w", err)
		}
		if err := yaml.Unmarshal(data, opts); err != nil {
			return nil, fmt.Errorf("parsing auth config: %w", err)
		}
	}

	if err := opts.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// ApplyEnv overrides fields from AUTHCORE_* variables.
func (o *Options) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("AUTHCORE_SIGNING_KEY"); ok && v != "" {
		o.SigningKey = v
	}
	if v, ok := lookup("AUTHCORE_ISSUER"); ok && v != "" {
		o.Issuer = v
	}
	if v, ok := lookup("AUTHCORE_AUDIENCE"); ok && v != "" {
		o.Audience = splitList(v)
	}

	durations := map[string]*time.Duration{
		"AUTHCORE_ACCESS_TOKEN_TTL":    &o.AccessTokenTTL,
		"AUTHCORE_REFRESH_TOKEN_TTL":   &o.RefreshTokenTTL,
		"AUTHCORE_AUDIT_WRITE_TIMEOUT": &o.AuditWriteTimeout,
		"AUTHCORE_REUSE_GRACE":         &o.ReuseGrace,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = d
	}

	flags := map[string]**bool{
		"AUTHCORE_ROTATION_TRACKING": &o.RotationTracking,
		"AUTHCORE_REUSE_DETECTION":   &o.ReuseDetection,
	}
	for key, dst := range flags {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = boolPtr(b)
	}

	if v, ok := lookup("AUTHCORE_DENIAL_AUDITING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing AUTHCORE_DENIAL_AUDITING: %w", err)
		}
		o.DenialAuditing = b
	}

	if v, ok := lookup("AUTHCORE_ATOMIC_AUDIT_ACTIONS"); ok {
		o.AtomicAuditActions = splitList(v)
	}

	return nil
}

// Validate checks the options
func (o *Options) Validate() error {
	err := validation.ValidateStruct(o,
		validation.Field(&o.SigningKey, validation.Required, validation.Length(MinSigningKeyLength, 0)),
		validation.Field(&o.Issuer, validation.Required),
		validation.Field(&o.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.RefreshTokenTTL,
			validation.Required,
			validation.Min(time.Second),
			validation.By(func(any) error {
				if o.RefreshTokenTTL < o.AccessTokenTTL {
					return fmt.Errorf("must not be shorter than access_token_ttl")
				}
				return nil
			}),
		),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

func (o *Options) GetSigningKey() string {
	return o.SigningKey
}

func (o *Options) GetIssuer() string {
	if o.Issuer == "" {
		return DefaultIssuer
	}
	return o.Issuer
}

func (o *Options) GetAudience() []string {
	return o.Audience
}

func (o *Options) GetAccessTokenTTL() time.Duration {
	if o.AccessTokenTTL <= 0 {
		return DefaultAccessTokenTTL
	}
	return o.AccessTokenTTL
}

func (o *Options) GetRefreshTokenTTL() time.Duration {
	if o.RefreshTokenTTL <= 0 {
		return DefaultRefreshTokenTTL
	}
	return o.RefreshTokenTTL
}

func (o *Options) GetRotationTracking() bool {
	return o.RotationTracking == nil || *o.RotationTracking
}

func (o *Options) GetReuseDetection() bool {
	return o.ReuseDetection == nil || *o.ReuseDetection
}

// GetReuseGrace is how long after a rotation a replay of the consumed
// token is treated as a lost race instead of theft. Zero disables it.
func (o *Options) GetReuseGrace() time.Duration {
	if o.ReuseGrace < 0 {
		return 0
	}
	return o.ReuseGrace
}

func (o *Options) GetDenialAuditing() bool {
	return o.DenialAuditing
}

func (o *Options) GetAtomicAuditActions() []string {
	return o.AtomicAuditActions
}

// GetAuditWriteTimeout bounds best effort audit writes
func (o *Options) GetAuditWriteTimeout() time.Duration {
	if o.AuditWriteTimeout <= 0 {
		return DefaultAuditWriteTimeout
	}
	return o.AuditWriteTimeout
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolPtr(b bool) *bool {
	return &b
}
