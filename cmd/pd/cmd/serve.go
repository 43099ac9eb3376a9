package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	"github.com/phax/phoss-directory-sub000/internal/config"
)

func newServeCmd() *cobra.Command {
	var withImporter bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the indexing service",
		Long: `Run the indexing service until interrupted.

The service processes queued participants with background workers,
retries failed items and, when import.enabled is set (or --import is
given), watches the drop directory for identifier list files.

On shutdown, unprocessed queue items are written to a snapshot and
restored on the next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(withImporter)
		},
	}

	cmd.Flags().BoolVar(&withImporter, "import", false, "Watch the drop directory regardless of config")

	return cmd
}

func runServe(withImporter bool) error {
	applyLogLevelOverride()

	// Config may enable the importer even without the flag.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := app.New(app.Options{
		ConfigPath:   configPath,
		WithIndexer:  true,
		WithImporter: withImporter || cfg.Import.Enabled,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(os.Stderr, "pd service running (data dir: %s)\n", a.Config.DataDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig

	a.Logger.Info("shutting down", slog.String("signal", s.String()))
	fmt.Fprintln(os.Stderr, "shutting down...")
	return nil
}
