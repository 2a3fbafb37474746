package cmd

import (
	"fmt"

	auth "github.com/goliatone/go-authcore"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the auth tables",
	Long:  `Creates the principals, principal_profiles, refresh_sessions and audit_entries tables and their indexes if they do not exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := auth.NewRepositoryManager(db).Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		logger("migrate").Info("Schema is up to date")
		return nil
	},
}
