// Package cmd provides the CLI commands for the pd directory service.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/pkg/version"
)

// Persistent flags shared by all commands.
var (
	configPath string
	logLevel   string
)

// NewRootCmd creates the root command for the pd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pd",
		Short: "Participant directory indexing service",
		Long: `pd maintains a searchable directory of e-delivery network participants.

Participants are queued for indexing, their business cards are fetched
from the configured provider and stored in a local full-text index.
Failed items are retried automatically until they expire.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("pd version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data dir>/pd.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newLookupCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newDeadCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// applyLogLevelOverride feeds the --log-level flag through the environment
// so it takes config precedence like any other override.
func applyLogLevelOverride() {
	if logLevel != "" {
		// Highest-precedence override path in the config loader.
		_ = os.Setenv("PD_LOG_LEVEL", logLevel)
	}
}
