package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const textCodeInvalidTransition = "INVALID_PRINCIPAL_STATE_TRANSITION"

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid principal state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*TransitionMetadata)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(meta *TransitionMetadata) {
		meta.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(meta *TransitionMetadata) {
		if len(metadata) == 0 {
			return
		}
		if meta.Metadata == nil {
			meta.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			meta.Metadata[k] = v
		}
	}
}

// Lifecycle moves principals between statuses and soft deletes them.
// Every change is one audited mutation and revokes the principal's
// refresh sessions when access is taken away.
type Lifecycle struct {
	principals  Principals
	sessions    RefreshSessions
	audit       *AuditRecorder
	transitions map[PrincipalStatus]map[PrincipalStatus]struct{}
	now         func() time.Time
	activity    ActivitySink
	logger      Logger
	provider    LoggerProvider
}

// NewLifecycle creates the lifecycle manager
func NewLifecycle(repos RepositoryManager, audit *AuditRecorder) *Lifecycle {
	provider, logger := ResolveLogger("auth.lifecycle", nil, nil)
	return &Lifecycle{
		principals: repos.Principals(),
		sessions:   repos.RefreshSessions(),
		audit:      audit,
		transitions: map[PrincipalStatus]map[PrincipalStatus]struct{}{
			StatusActive: {
				StatusSuspended: {},
			},
			StatusSuspended: {
				StatusActive: {},
			},
		},
		now:      time.Now,
		activity: noopActivitySink{},
		logger:   logger,
		provider: provider,
	}
}

func (l *Lifecycle) WithActivitySink(sink ActivitySink) *Lifecycle {
	l.activity = normalizeActivitySink(sink)
	return l
}

func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Lifecycle) WithLogger(logger Logger) *Lifecycle {
	l.provider, l.logger = ResolveLogger("auth.lifecycle", l.provider, logger)
	return l
}

func (l *Lifecycle) WithLoggerProvider(provider LoggerProvider) *Lifecycle {
	l.provider, l.logger = ResolveLogger("auth.lifecycle", provider, l.logger)
	return l
}

// Suspend blocks a principal and revokes its refresh sessions.
func (l *Lifecycle) Suspend(ctx context.Context, actor ActorRef, id uuid.UUID, opts ...TransitionOption) (*Principal, error) {
	return l.Transition(ctx, actor, id, StatusSuspended, opts...)
}

// Reinstate reactivates a suspended principal.
func (l *Lifecycle) Reinstate(ctx context.Context, actor ActorRef, id uuid.UUID, opts ...TransitionOption) (*Principal, error) {
	return l.Transition(ctx, actor, id, StatusActive, opts...)
}

// Transition moves a live principal to target. Moving to the current
// status is a no-op and is not audited.
func (l *Lifecycle) Transition(ctx context.Context, actor ActorRef, id uuid.UUID, target PrincipalStatus, opts ...TransitionOption) (*Principal, error) {
	principal, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}

	principal.EnsureStatus()
	from := principal.Status
	if from == target {
		return principal, nil
	}

	if !l.canTransition(from, target) {
		return nil, withCause(ErrInvalidTransition, nil, map[string]any{
			"from": string(from),
			"to":   string(target),
		})
	}

	meta := buildTransitionMetadata(opts...)
	action := ActionPrincipalReinstate
	if target == StatusSuspended {
		action = ActionPrincipalSuspend
	}

	entry := l.entry(actor, principal, action, meta)
	entry.Payload["from"] = string(from)
	entry.Payload["to"] = string(target)

	err = l.audit.Mutate(ctx, entry, func(ctx context.Context, tx bun.Tx) error {
		if err := l.principals.UpdateStatusTx(ctx, tx, principal.ID, target); err != nil {
			return principalNotFound(err, principal.ID)
		}
		if target == StatusSuspended {
			if _, err := l.sessions.RevokePrincipalTx(ctx, tx, principal.ID, l.now()); err != nil {
				return storeError(err, "lifecycle.revoke")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	principal.Status = target

	l.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventStatusChanged,
		Actor:       actor,
		PrincipalID: principal.ID.String(),
		TenantID:    principal.TenantID,
		FromStatus:  from,
		ToStatus:    target,
		Metadata:    meta.flatten(),
	})

	return principal, nil
}

// Delete soft deletes a principal. The audit entry is written in the
// same transaction when PRINCIPAL_DELETE is configured as atomic.
func (l *Lifecycle) Delete(ctx context.Context, actor ActorRef, id uuid.UUID, opts ...TransitionOption) error {
	principal, err := l.load(ctx, id)
	if err != nil {
		return err
	}

	meta := buildTransitionMetadata(opts...)
	entry := l.entry(actor, principal, ActionPrincipalDelete, meta)

	err = l.audit.Mutate(ctx, entry, func(ctx context.Context, tx bun.Tx) error {
		if err := l.principals.SoftDeleteTx(ctx, tx, principal.ID); err != nil {
			return principalNotFound(err, principal.ID)
		}
		if _, err := l.sessions.RevokePrincipalTx(ctx, tx, principal.ID, l.now()); err != nil {
			return storeError(err, "lifecycle.revoke")
		}
		return nil
	})
	if err != nil {
		return err
	}

	metadata := meta.flatten()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["deleted"] = true

	l.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventStatusChanged,
		Actor:       actor,
		PrincipalID: principal.ID.String(),
		TenantID:    principal.TenantID,
		FromStatus:  principal.Status,
		Metadata:    metadata,
	})

	return nil
}

func (l *Lifecycle) load(ctx context.Context, id uuid.UUID) (*Principal, error) {
	principal, err := l.principals.GetLive(ctx, id)
	if err != nil {
		return nil, principalNotFound(err, id)
	}
	return principal, nil
}

func (l *Lifecycle) canTransition(from, to PrincipalStatus) bool {
	if allowed, ok := l.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (l *Lifecycle) entry(actor ActorRef, principal *Principal, action string, meta TransitionMetadata) AuditEntry {
	payload := map[string]any{
		"kind": string(principal.Kind),
	}
	if meta.Reason != "" {
		payload["reason"] = meta.Reason
	}
	return AuditEntry{
		ActorID:    actor.ID,
		TenantID:   principal.TenantID,
		Action:     action,
		TargetType: "principal",
		TargetID:   principal.ID.String(),
		Payload:    payload,
	}
}

func (l *Lifecycle) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.now()
	}
	emitActivity(ctx, l.activity, l.logger, event)
}

func buildTransitionMetadata(opts ...TransitionOption) TransitionMetadata {
	meta := TransitionMetadata{}
	for _, opt := range opts {
		if opt != nil {
			opt(&meta)
		}
	}
	return meta
}

func (meta TransitionMetadata) flatten() map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

// principalNotFound maps a missing row onto NotFound and leaves other
// errors for storeError.
func principalNotFound(err error, id uuid.UUID) error {
	if repository.IsRecordNotFound(err) {
		return withCause(ErrNotFound, nil, map[string]any{
			"type": "principal",
			"id":   id.String(),
		})
	}
	return storeError(err, "principal.load")
}
