package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"remansim/internal/sim/runner"
	"remansim/internal/sim/tuning"
)

func newCompareCmd(a *app) *cobra.Command {
	var (
		names []string
		sf    scenarioFlags
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run several scenarios and print their reports side by side",
		Long: `Runs each scenario in memory (nothing is written under --data) and
prints the financial reports and final customer counts in columns.

Example:
  remansim compare --scenario Default --scenario Default_no_reman`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(names) == 0 {
				return fmt.Errorf("at least one --scenario is required")
			}
			set, err := tuning.Load(a.scenarios)
			if err != nil {
				return err
			}
			scs := make([]tuning.Scenario, len(names))
			for i, name := range names {
				sc, err := set.Get(name)
				if err != nil {
					return err
				}
				if err := sf.apply(cmd, &sc); err != nil {
					return fmt.Errorf("scenario %s: %w", name, err)
				}
				scs[i] = sc
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results := make([]runner.Result, len(scs))
			eg, egCtx := errgroup.WithContext(ctx)
			eg.SetLimit(runtime.GOMAXPROCS(0))
			for i, sc := range scs {
				eg.Go(func() error {
					r, err := runner.Build(sc, runner.Options{Logger: a.log})
					if err != nil {
						return fmt.Errorf("scenario %s: %w", sc.Name, err)
					}
					res, err := r.Execute(egCtx)
					if err != nil {
						return fmt.Errorf("scenario %s: %w", sc.Name, err)
					}
					results[i] = res
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return json.NewEncoder(out).Encode(results)
			}
			printReport(out, results)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&names, "scenario", []string{tuning.DefaultName, tuning.DefaultNoRemanName}, "scenario name (repeatable)")
	sf.register(cmd)
	return cmd
}
