package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/searchsync/internal/engine"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending document changes to the search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *engine.Result
			if all {
				res, err = a.engine.Rebuild(cmd.Context())
			} else {
				res, err = a.engine.Sync(cmd.Context())
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "re-index every document, not just pending changes")
	return cmd
}

func printResult(w io.Writer, res *engine.Result) {
	if !res.HasChanges() && len(res.Skipped) == 0 && len(res.Dropped) == 0 {
		fmt.Fprintln(w, "Search index is up to date")
		return
	}
	fmt.Fprintf(w, "%s upserted, %s deleted in %s\n",
		green(humanize.Comma(int64(res.Upserted))),
		green(humanize.Comma(int64(res.Deleted))),
		res.Duration.Round(time.Millisecond),
	)
	for _, path := range res.Skipped {
		fmt.Fprintf(w, "%s %s (kept pending)\n", red("skipped"), path)
	}
	for _, path := range res.Dropped {
		fmt.Fprintf(w, "%s %s\n", cyan("dropped"), path)
	}
}
