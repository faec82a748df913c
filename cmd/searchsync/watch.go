package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/searchsync/internal/engine"
	"github.com/openmined/searchsync/internal/event"
	"github.com/openmined/searchsync/internal/watcher"
	"github.com/spf13/cobra"
)

// drainTimeout bounds how long shutdown waits for the watcher to flush.
const drainTimeout = 500 * time.Millisecond

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Record document changes as they happen and sync them periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			if cmd.Flags().Changed("interval") {
				cfg.SyncInterval = interval
			}
			if cfg.SyncInterval <= 0 {
				return fmt.Errorf("invalid sync interval %s", cfg.SyncInterval)
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fw := watcher.NewFileWatcher(cfg.PostsDir)
			fw.FilterPaths(func(key string) bool { return !a.docs.IsDocument(key) })
			if err := fw.Start(cmd.Context()); err != nil {
				return fmt.Errorf("watch %s: %w", cfg.PostsDir, err)
			}
			defer fw.Stop()

			slog.Info("watching", "dir", cfg.PostsDir, "index", cfg.IndexName, "interval", cfg.SyncInterval)
			return runWatch(cmd.Context(), a.engine, fw.Events(), cfg.SyncInterval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "time between sync cycles (overrides sync_interval)")
	return cmd
}

// runWatch feeds events to the engine and syncs every interval until ctx is done,
// then records what the watcher flushed on exit and runs one last cycle. Events
// and cycles share this goroutine, so a cycle never observes an event recorded
// halfway through it.
func runWatch(ctx context.Context, eng *engine.Engine, events <-chan event.Event, interval time.Duration) error {
	syncOnce := func(ctx context.Context) {
		_, err := eng.Sync(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("sync failed, will retry", "error", err)
		}
	}
	handle := func(ctx context.Context, ev event.Event) {
		if err := eng.HandleEvent(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event not recorded", "event", ev.String(), "error", err)
		}
	}
	shutdown := func() error {
		final := context.WithoutCancel(ctx)
		drain := time.NewTimer(drainTimeout)
		defer drain.Stop()
	loop:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break loop
				}
				handle(final, ev)
			case <-drain.C:
				break loop
			}
		}
		slog.Info("shutting down, running final sync")
		syncOnce(final)
		return nil
	}

	syncOnce(ctx)

	// using a timer and not a ticker to avoid queued ticks when a cycle
	// takes longer than the interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case ev, ok := <-events:
			if !ok {
				return shutdown()
			}
			handle(ctx, ev)
		case <-timer.C:
			syncOnce(ctx)
			timer.Reset(interval)
		}
	}
}
