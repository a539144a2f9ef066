package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog contents",
	}

	cmd.AddCommand(newListExperimentsCmd())
	cmd.AddCommand(newListVariablesCmd())
	return cmd
}

func newListExperimentsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "experiments",
		Short: "List indexed experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListExperiments(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newListVariablesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "variables <experiment>",
		Short: "List the variables indexed for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListVariables(cmd.Context(), cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runListExperiments(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	experiments, err := store.ListExperiments(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(experiments)
	}

	if len(experiments) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No experiments indexed.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROOT\tCONTACT")
	for _, exp := range experiments {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", exp.Name, exp.Root, exp.Meta.Contact)
	}
	return tw.Flush()
}

func runListVariables(ctx context.Context, cmd *cobra.Command, experiment string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	variables, err := store.ListVariables(ctx, experiment)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(variables)
	}

	if len(variables) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No variables indexed for %s.\n", experiment)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUNITS\tFREQUENCY\tFILES\tCOVERAGE")
	for _, v := range variables {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s .. %s\n",
			v.Name, v.Units, v.Frequency, v.Files, v.Start, v.End)
	}
	return tw.Flush()
}
