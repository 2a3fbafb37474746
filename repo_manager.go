package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Principals() Principals
	Profiles() Profiles
	RefreshSessions() RefreshSessions
	AuditEntries() AuditEntries
	Migrate(ctx context.Context) error
}

type mngr struct {
	db              *bun.DB
	principals      Principals
	profiles        Profiles
	refreshSessions RefreshSessions
	auditEntries    AuditEntries
}

// NewRepositoryManager wires every store on db
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:              db,
		principals:      NewPrincipalsRepository(db),
		profiles:        NewProfilesRepository(db),
		refreshSessions: NewRefreshSessionsRepository(db),
		auditEntries:    NewAuditEntriesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.principals == nil {
		return errors.New("repository principals should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.refreshSessions == nil {
		return errors.New("repository refreshSessions should be initialized")
	}

	if m.auditEntries == nil {
		return errors.New("repository auditEntries should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Principals() Principals {
	return m.principals
}

func (m mngr) Profiles() Profiles {
	return m.profiles
}

func (m mngr) RefreshSessions() RefreshSessions {
	return m.refreshSessions
}

func (m mngr) AuditEntries() AuditEntries {
	return m.auditEntries
}

var schemaIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS principals_live_identifier_idx
		ON principals (identifier, COALESCE(tenant_id, ''))
		WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS refresh_sessions_family_idx ON refresh_sessions (family_id)`,
	`CREATE INDEX IF NOT EXISTS refresh_sessions_principal_idx ON refresh_sessions (principal_id)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_target_idx ON audit_entries (target_type, target_id)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_actor_idx ON audit_entries (actor_id)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (m mngr) Migrate(ctx context.Context) error {
	models := []any{
		(*Principal)(nil),
		(*PrincipalProfile)(nil),
		(*RefreshSession)(nil),
		(*AuditEntry)(nil),
	}

	return m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range models {
			if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}

		for _, stmt := range schemaIndexes {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		return nil
	})
}
