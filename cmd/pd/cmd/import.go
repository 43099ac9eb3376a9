package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/phax/phoss-directory-sub000/internal/app"
	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/importer"
	"github.com/phax/phoss-directory-sub000/internal/indexer"
)

func newImportCmd() *cobra.Command {
	var (
		owner  string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Queue participants from identifier list files",
		Long: `Queue every participant listed in the given files.

Each file holds one identifier per line (scheme::value); blank lines
and lines starting with '#' are skipped. Malformed lines are reported
and do not abort the import.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args, owner, noWait)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "pd-import", "Owner recorded for the queued items")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Queue only, process on the next serve")

	return cmd
}

func runImport(files []string, owner string, noWait bool) error {
	applyLogLevelOverride()

	a, err := app.New(app.Options{ConfigPath: configPath, WithIndexer: true})
	if err != nil {
		return err
	}
	defer a.Close()

	totalQueued := 0
	for _, file := range files {
		ids, diagnostics, err := importer.ParseFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		for _, d := range diagnostics {
			fmt.Fprintf(os.Stderr, "%s: %s\n", file, d)
		}
		if len(ids) == 0 {
			fmt.Fprintf(os.Stderr, "%s: no valid identifiers\n", file)
			continue
		}

		bar := progressbar.NewOptions(len(ids),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("Queueing %s", file)),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(os.Stderr)
			}),
		)

		queued, duplicates := 0, 0
		for _, id := range ids {
			item := indexer.NewWorkItem(id, indexer.ActionCreateUpdate, owner, "localhost")
			status, err := queueWithBackoff(a, item)
			if err != nil {
				return err
			}
			if status == indexer.StatusDuplicate {
				duplicates++
			} else {
				queued++
			}
			_ = bar.Add(1)
		}
		totalQueued += queued
		fmt.Printf("%s: queued %d, skipped %d duplicate(s)\n", file, queued, duplicates)
	}

	if noWait || totalQueued == 0 {
		return nil
	}
	return waitForDrain(a)
}

// queueWithBackoff waits for queue capacity instead of failing a bulk import
// on a full queue.
func queueWithBackoff(a *app.App, item indexer.WorkItem) (indexer.QueueStatus, error) {
	for {
		status, err := a.Indexer.Queue(item)
		if err == nil {
			return status, nil
		}
		if pderrors.GetCode(err) != pderrors.ErrCodeQueueFull {
			return status, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}
