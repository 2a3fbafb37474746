package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles stores role specific principal fields
type Profiles interface {
	repository.Repository[*PrincipalProfile]

	GetByPrincipal(ctx context.Context, principalID uuid.UUID) (*PrincipalProfile, error)
	GetByPrincipalTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID) (*PrincipalProfile, error)
	SaveTx(ctx context.Context, tx bun.IDB, profile *PrincipalProfile) (*PrincipalProfile, error)
}

type profiles struct {
	repository.Repository[*PrincipalProfile]
	db *bun.DB
}

var _ Profiles = (*profiles)(nil)

// NewProfilesRepository creates the profile store
func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*PrincipalProfile](db, repository.ModelHandlers[*PrincipalProfile]{
		NewRecord: func() *PrincipalProfile { return &PrincipalProfile{} },
		GetID: func(p *PrincipalProfile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.PrincipalID
		},
		SetID: func(p *PrincipalProfile, id uuid.UUID) {
			if p != nil {
				p.PrincipalID = id
			}
		},
		GetIdentifier: func() string {
			return "principal_id"
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
	}
}

func (r *profiles) GetByPrincipal(ctx context.Context, principalID uuid.UUID) (*PrincipalProfile, error) {
	return r.GetByPrincipalTx(ctx, r.db, principalID)
}

// GetByPrincipalTx returns nil and no error when the principal has no profile.
func (r *profiles) GetByPrincipalTx(ctx context.Context, tx bun.IDB, principalID uuid.UUID) (*PrincipalProfile, error) {
	record := &PrincipalProfile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.principal_id = ?", principalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (r *profiles) SaveTx(ctx context.Context, tx bun.IDB, profile *PrincipalProfile) (*PrincipalProfile, error) {
	return r.Repository.CreateTx(ctx, tx, profile)
}
