package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	"github.com/phax/phoss-directory-sub000/internal/config"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
	"github.com/phax/phoss-directory-sub000/internal/indexer"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the indexing work queue",
	}

	cmd.AddCommand(newQueueAddCmd())
	cmd.AddCommand(newQueueListCmd())

	return cmd
}

func newQueueAddCmd() *cobra.Command {
	var (
		action string
		owner  string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "add <participant>...",
		Short: "Queue participants for indexing",
		Long: `Queue one or more participants for indexing.

Identifiers use the form scheme::value, e.g.
iso6523-actorid-upis::0088:123456789.

By default the command waits until the queued items have been
processed. With --no-wait the items are snapshotted and picked up by
the next 'pd serve'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueAdd(args, action, owner, noWait)
		},
	}

	cmd.Flags().StringVar(&action, "action", string(indexer.ActionCreateUpdate),
		"Indexing action: create-update, delete or sync")
	cmd.Flags().StringVar(&owner, "owner", "pd-cli", "Owner recorded for the queued items")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Queue only, process on the next serve")

	return cmd
}

func runQueueAdd(args []string, action, owner string, noWait bool) error {
	applyLogLevelOverride()

	act, err := indexer.ParseActionType(action)
	if err != nil {
		return err
	}

	ids := make([]identifier.ParticipantID, 0, len(args))
	for _, arg := range args {
		id, err := identifier.ParseParticipantID(arg)
		if err != nil {
			return fmt.Errorf("invalid participant %q: %w", arg, err)
		}
		ids = append(ids, id)
	}

	a, err := app.New(app.Options{ConfigPath: configPath, WithIndexer: true})
	if err != nil {
		return err
	}
	defer a.Close()

	queued := 0
	for _, id := range ids {
		status, err := a.Indexer.Queue(indexer.NewWorkItem(id, act, owner, "localhost"))
		if err != nil {
			return err
		}
		if status == indexer.StatusDuplicate {
			fmt.Printf("%s: already pending\n", id)
			continue
		}
		queued++
	}
	fmt.Printf("queued %d item(s)\n", queued)

	if noWait || queued == 0 {
		return nil
	}
	return waitForDrain(a)
}

// waitForDrain blocks until no items are queued or executing, then reports
// where the work ended up.
func waitForDrain(a *app.App) error {
	for {
		s := a.Indexer.Stats()
		if s.Queued == 0 && s.InFlight == 0 {
			fmt.Printf("done: %d processed, %d awaiting retry, %d dead\n",
				s.TotalDone, s.ReIndex, s.Dead)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func newQueueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items awaiting retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			items, _, err := indexer.LoadLists(cfg.DataDir)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("no items awaiting retry")
				return nil
			}
			printReIndexItems(items)
			return nil
		},
	}
	return cmd
}

func printReIndexItems(items []indexer.ReIndexItem) {
	for _, r := range items {
		fmt.Printf("%-60s %-13s retries=%d first-failure=%s expires=%s\n",
			r.Item.Participant, r.Item.Action, r.RetryCount,
			r.FirstFailure.Format(time.RFC3339),
			r.MaxRetry.Format(time.RFC3339))
	}
}
