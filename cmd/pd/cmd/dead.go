package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	"github.com/phax/phoss-directory-sub000/internal/config"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
	"github.com/phax/phoss-directory-sub000/internal/indexer"
)

func newDeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "Manage items that exhausted their retries",
	}

	cmd.AddCommand(newDeadListCmd())
	cmd.AddCommand(newDeadRetryCmd())

	return cmd
}

func newDeadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			_, dead, err := indexer.LoadLists(cfg.DataDir)
			if err != nil {
				return err
			}
			if len(dead) == 0 {
				fmt.Println("dead list is empty")
				return nil
			}
			printReIndexItems(dead)
			return nil
		},
	}
}

func newDeadRetryCmd() *cobra.Command {
	var (
		all    bool
		action string
	)

	cmd := &cobra.Command{
		Use:   "retry [participant]",
		Short: "Re-queue dead items with a fresh retry lifecycle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("specify a participant or --all")
			}
			return runDeadRetry(args, all, action)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Retry every dead item")
	cmd.Flags().StringVar(&action, "action", string(indexer.ActionCreateUpdate),
		"Action of the dead item to retry")

	return cmd
}

func runDeadRetry(args []string, all bool, action string) error {
	applyLogLevelOverride()

	a, err := app.New(app.Options{ConfigPath: configPath, WithIndexer: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if all {
		n, err := a.Indexer.RetryAllDead()
		if err != nil {
			return err
		}
		fmt.Printf("re-queued %d dead item(s)\n", n)
		if n == 0 {
			return nil
		}
		return waitForDrain(a)
	}

	id, err := identifier.ParseParticipantID(args[0])
	if err != nil {
		return fmt.Errorf("invalid participant %q: %w", args[0], err)
	}
	act, err := indexer.ParseActionType(action)
	if err != nil {
		return err
	}

	key := indexer.DedupKey{Participant: id.String(), Action: act}
	ok, err := a.Indexer.RetryDead(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no dead entry for %s (%s)", id, act)
	}
	fmt.Printf("re-queued %s (%s)\n", id, act)
	return waitForDrain(a)
}
