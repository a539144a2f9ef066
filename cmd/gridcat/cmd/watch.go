package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridcat/gridcat/internal/config"
	"github.com/gridcat/gridcat/internal/updater"
	"github.com/gridcat/gridcat/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [root...]",
		Short: "Watch the roots and update the catalog on changes",
		Long: `Watch the root directories for filesystem changes and run an
incremental update for each debounced batch of events. Runs until
interrupted. Roots default to the configured ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args)
		},
	}

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, roots []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		roots = cfg.Roots
	}
	if len(roots) == 0 {
		return fmt.Errorf("no roots given and none configured in %s", config.ConfigFileName)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := watcher.New(roots, cfg.Paths.Include, cfg.WatchDebounce())
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %d root(s), press Ctrl-C to stop\n", len(roots))

	// Each batch triggers one incremental pass over all roots. The updater
	// diffs against recorded fingerprints, so batch contents only matter as
	// a trigger.
	onBatch := func(events []watcher.FileEvent) {
		slog.Info("watch_batch", slog.Int("events", len(events)))
		if err := runPipeline(ctx, cmd, roots, updater.ModeIncremental, cfg.Workers()); err != nil {
			slog.Warn("watch_update_failed", slog.String("error", err.Error()))
		}
	}

	if err := w.Run(ctx, onBatch); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
