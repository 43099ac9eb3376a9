package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	"github.com/phax/phoss-directory-sub000/internal/config"
	"github.com/phax/phoss-directory-sub000/internal/indexer"
	"github.com/phax/phoss-directory-sub000/internal/store"
	"github.com/phax/phoss-directory-sub000/pkg/version"
)

func newStatusCmd() *cobra.Command {
	var listParticipants bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), listParticipants)
		},
	}

	cmd.Flags().BoolVar(&listParticipants, "participants", false, "List every indexed participant")

	return cmd
}

func runStatus(ctx context.Context, listParticipants bool) error {
	applyLogLevelOverride()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Println(version.String())
	fmt.Printf("data dir:   %s\n", cfg.DataDir)
	fmt.Printf("index:      %s\n", cfg.IndexPath())
	if cfg.Provider.BaseURL != "" {
		fmt.Printf("provider:   %s\n", cfg.Provider.BaseURL)
	}

	// Durable lists are readable without starting the service.
	reindex, dead, err := indexer.LoadLists(cfg.DataDir)
	if err == nil {
		fmt.Printf("retry list: %d item(s)\n", len(reindex))
		fmt.Printf("dead list:  %d item(s)\n", len(dead))
	}

	a, err := app.New(app.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Store.DocCount()
	if err != nil {
		return err
	}
	fmt.Printf("documents:  %d\n", docs)

	counts, err := a.Store.AllParticipantIDs(ctx, store.ModeNonDeleted)
	if err != nil {
		return err
	}
	fmt.Printf("participants: %d\n", len(counts))

	if listParticipants {
		for _, pc := range counts {
			fmt.Printf("    %-60s %d\n", pc.Participant, pc.Entities)
		}
	}
	return nil
}
