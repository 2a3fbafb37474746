package cmd

import (
	"fmt"

	auth "github.com/goliatone/go-authcore"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	transitionReason string
	actorID          string
)

var principalCmd = &cobra.Command{
	Use:   "principal",
	Short: "Principal lifecycle commands",
	Long:  `Suspend, reinstate or delete a principal. Every change is audited and revokes the principal's refresh sessions when access is taken away.`,
}

var principalSuspendCmd = &cobra.Command{
	Use:   "suspend <principal-id>",
	Short: "Suspend a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, args[0], func(lc *auth.Lifecycle, id uuid.UUID) error {
			p, err := lc.Suspend(cmd.Context(), cliActor(), id, auth.WithTransitionReason(transitionReason))
			if err != nil {
				return err
			}
			logger("principal").Info("Principal updated", "id", p.ID, "status", p.Status)
			return nil
		})
	},
}

var principalReinstateCmd = &cobra.Command{
	Use:   "reinstate <principal-id>",
	Short: "Reinstate a suspended principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, args[0], func(lc *auth.Lifecycle, id uuid.UUID) error {
			p, err := lc.Reinstate(cmd.Context(), cliActor(), id, auth.WithTransitionReason(transitionReason))
			if err != nil {
				return err
			}
			logger("principal").Info("Principal updated", "id", p.ID, "status", p.Status)
			return nil
		})
	},
}

var principalDeleteCmd = &cobra.Command{
	Use:   "delete <principal-id>",
	Short: "Soft delete a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLifecycle(cmd, args[0], func(lc *auth.Lifecycle, id uuid.UUID) error {
			if err := lc.Delete(cmd.Context(), cliActor(), id, auth.WithTransitionReason(transitionReason)); err != nil {
				return err
			}
			logger("principal").Info("Principal deleted", "id", id)
			return nil
		})
	},
}

func init() {
	principalCmd.PersistentFlags().StringVar(&transitionReason, "reason", "", "Reason recorded in the audit entry")
	principalCmd.PersistentFlags().StringVar(&actorID, "actor", "authcore-cli", "Actor id recorded in the audit entry")

	principalCmd.AddCommand(principalSuspendCmd)
	principalCmd.AddCommand(principalReinstateCmd)
	principalCmd.AddCommand(principalDeleteCmd)
}

func cliActor() auth.ActorRef {
	return auth.ActorRef{ID: actorID, Type: "cli"}
}

func withLifecycle(cmd *cobra.Command, rawID string, fn func(*auth.Lifecycle, uuid.UUID) error) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid principal id %q: %w", rawID, err)
	}

	db, err := openDB(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	svc, err := newService(db, nil)
	if err != nil {
		return err
	}

	return fn(svc.Lifecycle(), id)
}
