package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/searchsync/internal/config"
	"github.com/openmined/searchsync/internal/event"
	"github.com/openmined/searchsync/internal/mirror"
	"github.com/openmined/searchsync/internal/utils"
	"github.com/spf13/cobra"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("248")).Width(10)
	countStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and the number of indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()

			info, err := os.Stat(cfg.MirrorPath)
			if os.IsNotExist(err) {
				fmt.Fprintf(out, "No mirror at %s yet; run %s\n", cfg.MirrorPath, cyan("searchsync sync"))
				return nil
			} else if err != nil {
				return err
			}

			// read without taking the lock so status works next to a running watch
			store := mirror.New(cfg.MirrorPath, mirror.WithRoot(cfg.PostsDir))
			if err := store.Load(); err != nil {
				return err
			}

			printStatus(out, cfg, store.Snapshot(), list)
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("updated"), dimStyle.Render(humanize.Time(info.ModTime())))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "list pending paths")
	return cmd
}

func printStatus(w io.Writer, cfg *config.Config, st mirror.State, list bool) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("mirror"), cfg.MirrorPath)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("documents"), cfg.PostsDir)
	if cfg.IndexName != "" {
		key := dimStyle.Render("(no admin key)")
		if cfg.AdminAPIKey != "" {
			key = dimStyle.Render("key " + utils.MaskSecret(cfg.AdminAPIKey))
		}
		fmt.Fprintf(w, "%s %s %s\n", labelStyle.Render("index"), cfg.IndexName, key)
	}

	pending := []struct {
		kind  event.Kind
		paths []string
	}{
		{event.Create, st.Created},
		{event.Update, st.Updated},
		{event.Delete, st.Deleted},
	}
	for _, p := range pending {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(p.kind.String()), countStyle.Render(humanize.Comma(int64(len(p.paths)))))
		if list && len(p.paths) > 0 {
			fmt.Fprintf(w, "%s\n", dimStyle.Render("  "+strings.Join(p.paths, "\n  ")))
		}
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("synced"), countStyle.Render(humanize.Comma(int64(len(st.Synced)))))
}
