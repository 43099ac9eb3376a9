package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
	"github.com/phax/phoss-directory-sub000/internal/store"
)

func newDeleteCmd() *cobra.Command {
	var (
		owner string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "delete <participant>",
		Short: "Remove a participant from the index",
		Long: `Remove every entity of a participant from the index.

The asserted owner must match the owner recorded at indexing time,
unless it is one of the configured system owners or --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), args[0], owner, force)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Asserted owner of the participant")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the ownership check")

	return cmd
}

func runDelete(ctx context.Context, arg, owner string, force bool) error {
	applyLogLevelOverride()

	id, err := identifier.ParseParticipantID(arg)
	if err != nil {
		return fmt.Errorf("invalid participant %q: %w", arg, err)
	}
	if !force && owner == "" {
		return fmt.Errorf("specify --owner or --force")
	}

	a, err := app.New(app.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	defer a.Close()

	meta := store.NewMetaData(owner, "localhost")
	removed, err := a.Store.Delete(ctx, id, meta, !force)
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%s was not removed (not indexed, or ownership mismatch)", id)
	}

	fmt.Printf("removed %s (%d document(s))\n", id, removed)
	return nil
}
