package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newClearCmd())
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every record from the search index and reset the local mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("clear deletes the whole search index; pass --yes to confirm")
			}

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

			if err := a.engine.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared index %s and mirror %s\n", cyan(cfg.IndexName), green(cfg.MirrorPath))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm clearing the index")
	return cmd
}
