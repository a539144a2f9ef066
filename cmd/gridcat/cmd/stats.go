package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridcat/gridcat/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput  bool
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showMetrics {
				telemetry.WritePrometheus(cmd.OutOrStdout())
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Experiments: %d\n", stats.Experiments)
			fmt.Fprintf(w, "Files:       %d (%d parsed, %d unparsable, %d tombstoned)\n",
				stats.Files, stats.Parsed, stats.Unparsable, stats.Tombstoned)
			fmt.Fprintf(w, "Variables:   %d\n", stats.Variables)
			fmt.Fprintf(w, "Conflicts:   %d\n", stats.Conflicts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Dump process counters in Prometheus format")

	return cmd
}
