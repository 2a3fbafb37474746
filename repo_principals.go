package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Principals is the principal store. Every accessor only sees live rows
// except the explicit WithDeleted ones.
type Principals interface {
	repository.Repository[*Principal]

	FindLive(ctx context.Context, identifier, tenantID string, limit int) ([]*Principal, error)
	FindLiveTx(ctx context.Context, tx bun.IDB, identifier, tenantID string, limit int) ([]*Principal, error)
	GetLive(ctx context.Context, id uuid.UUID) (*Principal, error)
	GetLiveTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Principal, error)
	GetWithDeleted(ctx context.Context, id uuid.UUID) (*Principal, error)
	GetWithDeletedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Principal, error)
	Register(ctx context.Context, record *Principal) (*Principal, error)
	RegisterTx(ctx context.Context, tx bun.IDB, record *Principal) (*Principal, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status PrincipalStatus) error
	SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type principals struct {
	repository.Repository[*Principal]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Principals                        = (*principals)(nil)
	_ repository.Repository[*Principal] = (*principals)(nil)
)

// NewPrincipalsRepository creates the principal store
func NewPrincipalsRepository(db *bun.DB) Principals {
	repo := repository.NewRepository[*Principal](db, repository.ModelHandlers[*Principal]{
		NewRecord: func() *Principal { return &Principal{} },
		GetID: func(p *Principal) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Principal, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "identifier"
		},
	})

	return &principals{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (r *principals) FindLive(ctx context.Context, identifier, tenantID string, limit int) ([]*Principal, error) {
	return r.FindLiveTx(ctx, r.db, identifier, tenantID, limit)
}

// FindLiveTx returns up to limit live principals with identifier. An
// empty tenantID matches principals of any tenant.
func (r *principals) FindLiveTx(ctx context.Context, tx bun.IDB, identifier, tenantID string, limit int) ([]*Principal, error) {
	var records []*Principal
	q := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.identifier = ?", normalizeIdentifier(identifier))

	if tenantID != "" {
		q = q.Where("?TableAlias.tenant_id = ?", tenantID)
	}

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return records, nil
}

func (r *principals) GetLive(ctx context.Context, id uuid.UUID) (*Principal, error) {
	return r.GetLiveTx(ctx, r.db, id)
}

func (r *principals) GetLiveTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Principal, error) {
	record := &Principal{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, r.notFound(err, id)
	}
	return record, nil
}

func (r *principals) GetWithDeleted(ctx context.Context, id uuid.UUID) (*Principal, error) {
	return r.GetWithDeletedTx(ctx, r.db, id)
}

// GetWithDeletedTx also returns soft deleted rows, callers use it only
// to tell deleted principals apart from unknown ones.
func (r *principals) GetWithDeletedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Principal, error) {
	record := &Principal{}
	err := tx.NewSelect().
		Model(record).
		WhereAllWithDeleted().
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, r.notFound(err, id)
	}
	return record, nil
}

func (r *principals) Register(ctx context.Context, record *Principal) (*Principal, error) {
	return r.RegisterTx(ctx, r.db, record)
}

func (r *principals) RegisterTx(ctx context.Context, tx bun.IDB, record *Principal) (*Principal, error) {
	preparePrincipalDefaults(record)
	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *principals) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status PrincipalStatus) error {
	res, err := tx.NewUpdate().
		Model((*Principal)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", r.now()).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	return r.expectOne(res, err, id)
}

func (r *principals) SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	now := r.now()
	res, err := tx.NewUpdate().
		Model((*Principal)(nil)).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	return r.expectOne(res, err, id)
}

func (r *principals) expectOne(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}
	return nil
}

func (r *principals) notFound(err error, id uuid.UUID) error {
	if repository.IsRecordNotFound(err) {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}
	return err
}

func preparePrincipalDefaults(record *Principal) {
	if record == nil {
		return
	}

	record.Identifier = normalizeIdentifier(record.Identifier)
	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
