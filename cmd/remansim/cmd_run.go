package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"remansim/internal/sim/catalogs"
	"remansim/internal/sim/runner"
	"remansim/internal/sim/tuning"
)

// scenarioFlags are the per-invocation overrides shared by run, compare and
// serve.
type scenarioFlags struct {
	days       int
	population int
	seed       uint64
	reman      bool
}

func (f *scenarioFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.days, "days", 0, "override simulation length in days")
	cmd.Flags().IntVar(&f.population, "population", 0, "override customer population")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "override random seed")
	cmd.Flags().BoolVar(&f.reman, "reman", true, "override whether remanufacturing is enabled")
}

func (f *scenarioFlags) apply(cmd *cobra.Command, sc *tuning.Scenario) error {
	if cmd.Flags().Changed("days") {
		sc.Main.SimulationLength = f.days
	}
	if cmd.Flags().Changed("population") {
		sc.Main.Population = f.population
	}
	if cmd.Flags().Changed("seed") {
		sc.Main.Seed = f.seed
	}
	if cmd.Flags().Changed("reman") {
		sc.Main.EnableReman = f.reman
	}
	sc.Normalize()
	return sc.Validate()
}

func newRunCmd(a *app) *cobra.Command {
	var (
		name  string
		runID string
		sf    scenarioFlags
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scenario and write its tick log and result",
		Long: `Runs a scenario to its horizon and writes:
  <data>/runs/<run_id>/ticks/ticks-<day>.jsonl.zst
  <data>/runs/<run_id>/result.json.zst
and records the run in the run index.

Example:
  remansim run --scenario Default_no_reman --days 365`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := a.loadScenario(name)
			if err != nil {
				return err
			}
			if err := sf.apply(cmd, &sc); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, runDir, err := a.executeRun(ctx, sc, runner.Options{RunID: runID})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{
					"run_dir": runDir,
					"result":  res,
				})
			}
			fmt.Fprintf(out, "run %s scenario=%s days=%d digest=%s\n", res.RunID, sc.Name, res.Days, res.Digest)
			fmt.Fprintf(out, "output: %s\n\n", runDir)
			printReport(out, []runner.Result{res})
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "scenario", tuning.DefaultName, "scenario name")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (default: random UUID)")
	sf.register(cmd)
	return cmd
}

// printReport writes one column per result.
func printReport(out io.Writer, results []runner.Result) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	defer tw.Flush()

	row := func(label string, f func(r runner.Result) string) {
		fmt.Fprintf(tw, "%s\t", label)
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t", f(r))
		}
		fmt.Fprintln(tw)
	}
	money := func(v float64) string { return fmt.Sprintf("%.2f", v) }
	count := func(v int) string { return fmt.Sprintf("%d", v) }

	row("scenario", func(r runner.Result) string { return r.Scenario.Name })
	row("days", func(r runner.Result) string { return count(r.Days) })
	for _, p := range catalogs.All {
		row("sold "+p.String(), func(r runner.Result) string { return count(r.Report.Stats.Sold[p]) })
	}
	for _, p := range catalogs.All {
		row("revenue "+p.String(), func(r runner.Result) string { return money(r.Report.Revenue[p]) })
	}
	for _, p := range catalogs.All {
		row("production cost "+p.String(), func(r runner.Result) string { return money(r.Report.Costs.Production[p]) })
	}
	row("collection cost", func(r runner.Result) string { return money(r.Report.Costs.Collection) })
	row("disposal cost", func(r runner.Result) string { return money(r.Report.Costs.Disposal) })
	row("total cost", func(r runner.Result) string { return money(r.Report.TotalCost) })
	row("total revenue", func(r runner.Result) string { return money(r.Report.TotalRevenue) })
	row("profit", func(r runner.Result) string { return money(r.Report.Profit) })
	row("cores collected", func(r runner.Result) string { return count(r.Report.Stats.CoresCollected) })
	row("cores rejected", func(r runner.Result) string { return count(r.Report.Stats.CoresRejected) })
	row("potential users", func(r runner.Result) string { return count(r.Final.Customers.PotentialUsers) })
	for _, p := range catalogs.All {
		row("uses "+p.String(), func(r runner.Result) string { return count(r.Final.Customers.Uses[p]) })
	}
	for _, p := range catalogs.All {
		row("wants "+p.String(), func(r runner.Result) string { return count(r.Final.Customers.Wants[p]) })
	}
	row("wants any", func(r runner.Result) string { return count(r.Final.Customers.WantsAny) })
}
