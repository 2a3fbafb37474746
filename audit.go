package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const (
	ActionRegister           = "REGISTER"
	ActionAccessDenied       = "ACCESS_DENIED"
	ActionRefreshTokenReuse  = "REFRESH_TOKEN_REUSE"
	ActionPrincipalSuspend   = "PRINCIPAL_SUSPEND"
	ActionPrincipalReinstate = "PRINCIPAL_REINSTATE"
)

// MutationFunc is a primary mutation run inside an audit transaction
type MutationFunc func(ctx context.Context, tx bun.Tx) error

// AuditRecorder appends audit entries. Record is best effort and never
// fails the caller, RecordTx and Mutate are transactional.
type AuditRecorder struct {
	entries  AuditEntries
	txm      repository.TransactionManager
	atomic   map[string]bool
	timeout  time.Duration
	now      func() time.Time
	metrics  *Metrics
	activity ActivitySink
	logger   Logger
	provider LoggerProvider
}

// NewAuditRecorder creates a recorder writing through repos
func NewAuditRecorder(repos RepositoryManager) *AuditRecorder {
	provider, logger := ResolveLogger("auth.audit", nil, nil)
	return &AuditRecorder{
		entries:  repos.AuditEntries(),
		txm:      repos,
		atomic:   map[string]bool{ActionPrincipalDelete: true},
		timeout:  DefaultAuditWriteTimeout,
		now:      time.Now,
		activity: noopActivitySink{},
		logger:   logger,
		provider: provider,
	}
}

func (a *AuditRecorder) WithLogger(l Logger) *AuditRecorder {
	a.provider, a.logger = ResolveLogger("auth.audit", a.provider, l)
	return a
}

func (a *AuditRecorder) WithLoggerProvider(provider LoggerProvider) *AuditRecorder {
	a.provider, a.logger = ResolveLogger("auth.audit", provider, a.logger)
	return a
}

func (a *AuditRecorder) WithMetrics(m *Metrics) *AuditRecorder {
	a.metrics = m
	return a
}

func (a *AuditRecorder) WithActivitySink(sink ActivitySink) *AuditRecorder {
	a.activity = normalizeActivitySink(sink)
	return a
}

// WithAtomicActions replaces the set of actions audited in the same
// transaction as their mutation.
func (a *AuditRecorder) WithAtomicActions(actions ...string) *AuditRecorder {
	a.atomic = make(map[string]bool, len(actions))
	for _, action := range actions {
		a.atomic[action] = true
	}
	return a
}

func (a *AuditRecorder) WithWriteTimeout(d time.Duration) *AuditRecorder {
	if d > 0 {
		a.timeout = d
	}
	return a
}

func (a *AuditRecorder) WithClock(now func() time.Time) *AuditRecorder {
	if now != nil {
		a.now = now
	}
	return a
}

// IsAtomic reports whether action is written inside the mutation's transaction
func (a *AuditRecorder) IsAtomic(action string) bool {
	return a.atomic[action]
}

// Record appends entry without letting the caller's cancellation abort
// the write. Failures are logged, counted and emitted as activity.
func (a *AuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	record := a.prepare(entry)
	if err := a.entries.Append(ctx, record); err != nil {
		a.reportFailure(ctx, record, err)
	}
}

// RecordTx appends entry inside tx.
func (a *AuditRecorder) RecordTx(ctx context.Context, tx bun.IDB, entry AuditEntry) error {
	record := a.prepare(entry)
	if err := a.entries.AppendTx(ctx, tx, record); err != nil {
		return storeError(err, "audit.append")
	}
	return nil
}

// Mutate runs fn in a transaction and audits it exactly once. Atomic
// actions are appended in the same transaction, the rest after commit.
// Nothing is appended when fn fails.
func (a *AuditRecorder) Mutate(ctx context.Context, entry AuditEntry, fn MutationFunc) error {
	atomic := a.IsAtomic(entry.Action)

	var fnErr error
	err := a.txm.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if fnErr = fn(ctx, tx); fnErr != nil {
			return fnErr
		}
		if atomic {
			return a.RecordTx(ctx, tx, entry)
		}
		return nil
	})
	if fnErr != nil {
		return mutationError(fnErr, "audit.mutate")
	}
	if err != nil {
		return storeError(err, "audit.mutate")
	}

	if !atomic {
		a.Record(ctx, entry)
	}

	return nil
}

func (a *AuditRecorder) prepare(entry AuditEntry) *AuditEntry {
	record := entry
	if record.OccurredAt.IsZero() {
		record.OccurredAt = a.now().UTC()
	}
	return &record
}

func (a *AuditRecorder) reportFailure(ctx context.Context, entry *AuditEntry, err error) {
	a.logger.Error("audit write failed",
		"action", entry.Action,
		"target_type", entry.TargetType,
		"target_id", entry.TargetID,
		"error", err,
	)

	a.metrics.ObserveAuditFailure(entry.Action)

	emitActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityEventAuditWriteFailed,
		Actor:     ActorRef{ID: entry.ActorID},
		TenantID:  entry.TenantID,
		Metadata: map[string]any{
			"action":      entry.Action,
			"target_type": entry.TargetType,
			"target_id":   entry.TargetID,
		},
	})
}
