// Package cmd provides the CLI commands for gridcat.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/gridcat/gridcat/internal/catalog"
	"github.com/gridcat/gridcat/internal/config"
	"github.com/gridcat/gridcat/internal/logging"
	"github.com/gridcat/gridcat/internal/timeaxis"
	"github.com/gridcat/gridcat/pkg/version"
)

var (
	debugMode      bool
	catalogPath    string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the gridcat CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gridcat",
		Short: "Catalog and query gridded model output",
		Long: `gridcat indexes directory trees of gridded model output into a local
catalog and answers queries like "all monthly means of variable X between
date A and date B" without touching the raw files again.

Run 'gridcat build <root>' once, then 'gridcat query' as often as you like.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("gridcat version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Catalog database path (overrides config)")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = teardownLogging

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newGCCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// loadConfig reads .gridcat.yaml from the working directory and applies the
// --catalog override.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}
	if catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}
	return cfg, nil
}

// openStore opens the catalog for the effective configuration.
func openStore(cfg *config.Config) (*catalog.Store, error) {
	return catalog.Open(cfg.Catalog.Path)
}

// stdoutIsTTY reports whether stdout is an interactive terminal. Progress
// lines are suppressed when output is piped.
func stdoutIsTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// padStamp normalizes a user-supplied date to a padded catalog stamp.
// "2000-06-01" becomes "2000-06-01 00:00:00" (or end-of-day for range ends);
// full stamps pass through after validation.
func padStamp(s string, endOfDay bool) (string, error) {
	if s == "" {
		return "", nil
	}
	if !strings.Contains(s, " ") {
		if endOfDay {
			s += " 23:59:59"
		} else {
			s += " 00:00:00"
		}
	}
	if _, err := timeaxis.ParseStamp(s); err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\"", s)
	}
	return s, nil
}
