package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newGCCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Purge tombstoned catalog entries past the grace period",
		Long: `Permanently remove tombstoned files whose grace period has elapsed.
Until then a file that reappears with the same fingerprint is revived
without re-parsing. The grace period defaults to catalog.gc_grace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.GCGrace()
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			purged, err := store.GarbageCollect(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d tombstoned file(s)\n", purged)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Purge tombstones older than this (default: catalog.gc_grace)")

	return cmd
}
