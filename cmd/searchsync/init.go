package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/openmined/searchsync/internal/document"
	"github.com/openmined/searchsync/internal/identity"
	"github.com/openmined/searchsync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var writeConfig bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Stamp a search identifier on every document missing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()

			if writeConfig {
				path := cfg.Path
				if path == "" {
					path, _ = cmd.Flags().GetString("config")
				}
				if path, err = utils.ResolvePath(path); err != nil {
					return err
				}
				if utils.FileExists(path) {
					fmt.Fprintf(out, "Config already exists: %s\n", green(path))
				} else {
					if err := cfg.Save(path); err != nil {
						return fmt.Errorf("write config: %w", err)
					}
					fmt.Fprintf(out, "Config written: %s\n", green(path))
				}
			}

			docs, err := document.NewSource(cfg.PostsDir, cfg.Ignore...)
			if err != nil {
				return err
			}
			keys, err := docs.Discover()
			if err != nil {
				return err
			}

			summary, errs := identity.New(docs).AssignAll(keys)
			for _, key := range summary.Assigned {
				fmt.Fprintf(out, "%s %s\n", green("stamped"), key)
			}
			for _, err := range errs {
				fmt.Fprintf(out, "%s %s\n", red("failed "), err)
			}

			fmt.Fprintf(out, "%s documents: %s stamped, %s unchanged, %s failed\n",
				cyan(humanize.Comma(int64(len(keys)))),
				humanize.Comma(int64(len(summary.Assigned))),
				humanize.Comma(int64(summary.Unchanged)),
				humanize.Comma(int64(len(errs))),
			)
			if len(errs) > 0 {
				return fmt.Errorf("%d documents could not be stamped", len(errs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "write the effective config to --config if it does not exist")
	return cmd
}
