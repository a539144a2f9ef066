package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridcat/gridcat/internal/planner"
	"github.com/gridcat/gridcat/internal/telemetry"
)

func newQueryCmd() *cobra.Command {
	var (
		run        string
		from       string
		to         string
		freq       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "query <experiment> <variable>",
		Short: "Resolve a variable and time range to a file manifest",
		Long: `Answer "which files hold variable V of experiment E between A and B"
from the catalog alone. The manifest lists each file with the time slice to
take from it; uncovered sub-ranges are reported as gaps, not errors.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, queryArgs{
				experiment: args[0],
				variable:   args[1],
				run:        run,
				from:       from,
				to:         to,
				frequency:  freq,
				jsonOutput: jsonOutput,
			})
		},
	}

	cmd.Flags().StringVar(&run, "run", "", "Restrict to one run (e.g. output003)")
	cmd.Flags().StringVar(&from, "from", "", "Range start (YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\")")
	cmd.Flags().StringVar(&to, "to", "", "Range end (YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\")")
	cmd.Flags().StringVar(&freq, "freq", "", "Preferred output frequency (e.g. \"1 monthly\")")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the plan as JSON")

	return cmd
}

type queryArgs struct {
	experiment string
	variable   string
	run        string
	from       string
	to         string
	frequency  string
	jsonOutput bool
}

func runQuery(ctx context.Context, cmd *cobra.Command, qa queryArgs) error {
	fromStamp, err := padStamp(qa.from, false)
	if err != nil {
		return err
	}
	toStamp, err := padStamp(qa.to, true)
	if err != nil {
		return err
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

	plan, err := planner.New(store).Resolve(ctx, planner.Request{
		Experiment: qa.experiment,
		Variable:   qa.variable,
		Run:        qa.run,
		From:       fromStamp,
		To:         toStamp,
		Frequency:  qa.frequency,
	})
	if err != nil {
		return err
	}
	telemetry.QueriesServed.Inc()

	if qa.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	return printPlan(cmd, plan)
}

func printPlan(cmd *cobra.Command, plan *planner.Plan) error {
	w := cmd.OutOrStdout()

	if len(plan.Files) == 0 {
		fmt.Fprintln(w, "No files match.")
	}
	for _, sel := range plan.Files {
		fmt.Fprintf(w, "%s  %s .. %s  [%s, %s]\n",
			sel.Path, sel.Start, sel.End, sel.Frequency, sel.Run)
	}

	if len(plan.Gaps) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Gaps:")
		for _, g := range plan.Gaps {
			fmt.Fprintf(w, "  %s .. %s\n", g.Start, g.End)
		}
	}

	if len(plan.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings:")
		for _, c := range plan.Warnings {
			fmt.Fprintf(w, "  %s/%s %s: %s\n", c.Experiment, c.Run, c.Variable, c.Detail)
		}
	}

	return nil
}
