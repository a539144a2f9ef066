package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gridcat/gridcat/internal/updater"
)

func newUpdateCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "update [root...]",
		Short: "Incrementally update the catalog",
		Long: `Rescan the roots and reconcile the catalog against what is on disk:
new files are parsed, changed files re-parsed, removed files tombstoned and
unchanged files skipped. Roots default to the configured ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, args, updater.ModeIncremental, workers)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Extraction worker pool size (0 = NumCPU)")

	return cmd
}
