package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridcat/gridcat/internal/config"
	"github.com/gridcat/gridcat/internal/extract"
	"github.com/gridcat/gridcat/internal/scanner"
	"github.com/gridcat/gridcat/internal/updater"
)

func newBuildCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "build <root>...",
		Short: "Build or rebuild the catalog from scratch",
		Long: `Scan the given roots, extract metadata from every matching file and
rebuild the catalog. Files no longer present are tombstoned. Unparsable
files are recorded and skipped; they never abort the build.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, args, updater.ModeFull, workers)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Extraction worker pool size (0 = NumCPU)")

	return cmd
}

// runPipeline drives one full or incremental pass and prints the summary.
// Shared by build, update and watch.
func runPipeline(ctx context.Context, cmd *cobra.Command, roots []string, mode updater.Mode, workers int) error {
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
	if workers <= 0 {
		workers = cfg.Workers()
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sc, err := scanner.New()
	if err != nil {
		return err
	}
	up := updater.New(store, sc, extract.New(cfg.ExtractTimeout()))

	if stdoutIsTTY() {
		fmt.Fprintf(cmd.OutOrStdout(), "Indexing %d root(s)...\n", len(roots))
	}

	start := time.Now()
	res, err := up.Run(ctx, updater.Options{
		Roots:           roots,
		IncludePatterns: cfg.Paths.Include,
		ExcludePatterns: cfg.Paths.Exclude,
		FollowSymlinks:  cfg.Scan.FollowSymlinks,
		Workers:         workers,
		Mode:            mode,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Indexed %d file(s) in %s: %d parsed, %d unparsable, %d unchanged, %d removed\n",
		res.Scanned, time.Since(start).Round(time.Millisecond),
		res.Parsed, res.Unparsable, res.Skipped, res.Tombstoned)
	if res.Stale > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d stale write(s) from concurrent updates\n", res.Stale)
	}

	return nil
}
