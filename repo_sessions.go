package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RefreshSessions is the rotation tracking store
type RefreshSessions interface {
	repository.Repository[*RefreshSession]

	Open(ctx context.Context, record *RefreshSession) (*RefreshSession, error)
	OpenTx(ctx context.Context, tx bun.IDB, record *RefreshSession) (*RefreshSession, error)
	Find(ctx context.Context, id uuid.UUID) (*RefreshSession, error)
	FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*RefreshSession, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, id, replacedBy uuid.UUID, at time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int64, error)
	RevokeFamilyTx(ctx context.Context, tx bun.IDB, familyID uuid.UUID, at time.Time) (int64, error)
	RevokePrincipalTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID, at time.Time) (int64, error)
}

type refreshSessions struct {
	repository.Repository[*RefreshSession]
	db *bun.DB
}

var _ RefreshSessions = (*refreshSessions)(nil)

// NewRefreshSessionsRepository creates the session store
func NewRefreshSessionsRepository(db *bun.DB) RefreshSessions {
	repo := repository.NewRepository[*RefreshSession](db, repository.ModelHandlers[*RefreshSession]{
		NewRecord: func() *RefreshSession { return &RefreshSession{} },
		GetID: func(s *RefreshSession) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *RefreshSession, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &refreshSessions{
		Repository: repo,
		db:         db,
	}
}

func (r *refreshSessions) Open(ctx context.Context, record *RefreshSession) (*RefreshSession, error) {
	return r.OpenTx(ctx, r.db, record)
}

func (r *refreshSessions) OpenTx(ctx context.Context, tx bun.IDB, record *RefreshSession) (*RefreshSession, error) {
	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *refreshSessions) Find(ctx context.Context, id uuid.UUID) (*RefreshSession, error) {
	return r.FindTx(ctx, r.db, id)
}

func (r *refreshSessions) FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*RefreshSession, error) {
	record := &RefreshSession{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

// ConsumeTx marks an unused, unrevoked session as used. It reports false
// when another request consumed or revoked it first.
func (r *refreshSessions) ConsumeTx(ctx context.Context, tx bun.IDB, id, replacedBy uuid.UUID, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*RefreshSession)(nil)).
		Set("used_at = ?", at).
		Set("replaced_by = ?", replacedBy).
		Where("id = ?", id).
		Where("used_at IS NULL").
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (r *refreshSessions) RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) (int64, error) {
	return r.RevokeFamilyTx(ctx, r.db, familyID, at)
}

func (r *refreshSessions) RevokeFamilyTx(ctx context.Context, tx bun.IDB, familyID uuid.UUID, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, tx, "family_id = ?", familyID, at)
}

func (r *refreshSessions) RevokePrincipalTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, tx, "principal_id = ?", principalID, at)
}

func (r *refreshSessions) revokeWhere(ctx context.Context, tx bun.IDB, where string, arg any, at time.Time) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*RefreshSession)(nil)).
		Set("revoked_at = ?", at).
		Where(where, arg).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
