package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write a config file with the default settings.

The file is written to the path given with --config, or to
<data dir>/pd.yaml. Existing files are not overwritten unless
--force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(force bool) error {
	cfg := config.New()

	path := configPath
	if path == "" {
		path = filepath.Join(cfg.DataDir, config.DefaultConfigFileName)
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if err := cfg.WriteYAML(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
