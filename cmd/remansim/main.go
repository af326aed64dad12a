package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remansim/internal/sim/tuning"
)

// app carries the state shared by every subcommand.
type app struct {
	dataDir   string
	scenarios string
	logLevel  string
	logFormat string
	jsonOut   bool

	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}
	rootCmd := &cobra.Command{
		Use:   "remansim",
		Short: "Customer and OEM simulation of virgin and remanufactured products",
		Long: `remansim runs a day-by-day simulation of a customer population buying
virgin and remanufactured products from a single OEM, and reports the OEM's
costs, revenue and reverse-logistics statistics.

Runs are written under --data as a compressed tick log and a result file, and
indexed in SQLite (or Postgres, see REMANSIM_INDEX_BACKEND).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.log = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.dataDir, "data", "./data", "data directory for run outputs and the run index")
	pf.StringVar(&a.scenarios, "scenarios", "", "scenario file (YAML); built-in scenarios are always available")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	pf.StringVar(&a.logFormat, "log-format", "console", "log format: console|json")
	pf.BoolVar(&a.jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(
		newRunCmd(a),
		newCompareCmd(a),
		newServeCmd(a),
		newReplayCmd(a),
		newReportCmd(a),
		newRunsCmd(a),
		newScenariosCmd(a),
		newWatchCmd(a),
	)
	return rootCmd
}

func (a *app) loadScenario(name string) (tuning.Scenario, error) {
	set, err := tuning.Load(a.scenarios)
	if err != nil {
		return tuning.Scenario{}, err
	}
	return set.Get(name)
}
