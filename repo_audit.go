package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// AuditEntries is the append only audit log
type AuditEntries interface {
	repository.Repository[*AuditEntry]

	Append(ctx context.Context, entry *AuditEntry) error
	AppendTx(ctx context.Context, tx bun.IDB, entry *AuditEntry) error
	ForTarget(ctx context.Context, targetType, targetID string) ([]*AuditEntry, error)
	ForActor(ctx context.Context, actorID string) ([]*AuditEntry, error)
}

type auditEntries struct {
	repository.Repository[*AuditEntry]
	db *bun.DB
}

var _ AuditEntries = (*auditEntries)(nil)

// NewAuditEntriesRepository creates the audit store
func NewAuditEntriesRepository(db *bun.DB) AuditEntries {
	repo := repository.NewRepository[*AuditEntry](db, repository.ModelHandlers[*AuditEntry]{
		NewRecord: func() *AuditEntry { return &AuditEntry{} },
		GetID: func(e *AuditEntry) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *AuditEntry, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &auditEntries{
		Repository: repo,
		db:         db,
	}
}

func (r *auditEntries) Append(ctx context.Context, entry *AuditEntry) error {
	return r.AppendTx(ctx, r.db, entry)
}

func (r *auditEntries) AppendTx(ctx context.Context, tx bun.IDB, entry *AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = newAuditID()
	}
	_, err := r.Repository.CreateTx(ctx, tx, entry)
	return err
}

func (r *auditEntries) ForTarget(ctx context.Context, targetType, targetID string) ([]*AuditEntry, error) {
	var out []*AuditEntry
	err := r.db.NewSelect().
		Model(&out).
		Where("?TableAlias.target_type = ?", targetType).
		Where("?TableAlias.target_id = ?", targetID).
		Order("id ASC").
		Scan(ctx)
	return out, err
}

func (r *auditEntries) ForActor(ctx context.Context, actorID string) ([]*AuditEntry, error) {
	var out []*AuditEntry
	err := r.db.NewSelect().
		Model(&out).
		Where("?TableAlias.actor_id = ?", actorID).
		Order("id ASC").
		Scan(ctx)
	return out, err
}

// newAuditID returns a time ordered id that still fits a uuid column.
func newAuditID() uuid.UUID {
	return uuid.UUID(ulid.Make())
}
