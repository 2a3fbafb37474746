package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	cfg        *Config
)

var rootCmd = &cobra.Command{
	Use:   "authcore",
	Short: "Authentication and authorization core",
	Long: `authcore issues and rotates tokens for every role kind, authorizes
requests by role, tenant and ownership, and keeps an audit trail.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootLogger = newLogger(verbose)

		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (env: AUTHCORE_*)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at trace level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(principalCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
