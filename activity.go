package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStatusChanged    ActivityEventType = "user.status.changed"
	ActivityEventLoginSuccess     ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure     ActivityEventType = "auth.login.failure"
	ActivityEventRegister         ActivityEventType = "auth.register"
	ActivityEventRefreshSuccess   ActivityEventType = "auth.refresh.success"
	ActivityEventRefreshFailure   ActivityEventType = "auth.refresh.failure"
	ActivityEventRefreshReuse     ActivityEventType = "auth.refresh.reuse"
	ActivityEventLogout           ActivityEventType = "auth.logout"
	ActivityEventAccessDenied     ActivityEventType = "authz.access.denied"
	ActivityEventAuditWriteFailed ActivityEventType = "audit.write.failed"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// ActorOf builds an ActorRef for a principal
func ActorOf(p *Principal) ActorRef {
	if p == nil {
		return ActorRef{}
	}
	return ActorRef{ID: p.ID.String(), Type: string(p.Kind)}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType   ActivityEventType
	Actor       ActorRef
	PrincipalID string
	TenantID    string
	FromStatus  PrincipalStatus
	ToStatus    PrincipalStatus
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// emitActivity is best effort, sink failures are only logged.
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
