package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"remansim/internal/persistence/indexdb"
	"remansim/internal/persistence/snapshot"
	"remansim/internal/sim/runner"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		runRef string
		ticks  bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the financial report of a recorded run",
		Long: `Prints the report from the run's result file, falling back to the run
index when the result file is gone. --ticks prints the daily series stored in
the run index as CSV instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(runRef) == "" {
				return fmt.Errorf("--run is required")
			}
			out := cmd.OutOrStdout()
			dir := a.resolveRunDir(runRef)
			runID := filepath.Base(filepath.Clean(dir))

			if ticks {
				idx, err := a.requireIndex(cmd)
				if err != nil {
					return err
				}
				defer idx.Close()
				rows, err := idx.Ticks(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					return fmt.Errorf("no indexed ticks for run %s", runID)
				}
				if a.jsonOut {
					return json.NewEncoder(out).Encode(rows)
				}
				return writeTicksCSV(out, rows)
			}

			rec, err := snapshot.ReadResult(snapshot.PathFor(dir))
			switch {
			case err == nil:
				if a.jsonOut {
					return json.NewEncoder(out).Encode(rec.Result)
				}
				fmt.Fprintf(out, "run %s scenario=%s days=%d digest=%s\n\n", rec.Header.RunID, rec.Header.Scenario, rec.Header.Days, rec.Header.Digest)
				printReport(out, []runner.Result{rec.Result})
				return nil
			case !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("read result: %w", err)
			}

			idx, err := a.requireIndex(cmd)
			if err != nil {
				return err
			}
			defer idx.Close()
			report, err := idx.Report(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("run %s: %w", runID, err)
			}
			return json.NewEncoder(out).Encode(report)
		},
	}
	cmd.Flags().StringVar(&runRef, "run", "", "run directory or run id")
	cmd.Flags().BoolVar(&ticks, "ticks", false, "print the indexed daily series as CSV")
	return cmd
}

func (a *app) requireIndex(cmd *cobra.Command) (*indexdb.Index, error) {
	idx, err := openRunIndex(cmd.Context(), a.dataDir, a.log)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, fmt.Errorf("run index is disabled (REMANSIM_INDEX_BACKEND=none)")
	}
	return idx, nil
}

var tickCSVHeader = []string{
	"day", "digest", "potential", "wants_any", "wants_virgin", "wants_reman",
	"uses_virgin", "uses_reman", "core_stock", "stock_virgin", "stock_reman",
	"sold_virgin", "sold_reman", "cores_collected", "cores_rejected",
}

func writeTicksCSV(out io.Writer, rows []indexdb.TickRow) error {
	w := csv.NewWriter(out)
	if err := w.Write(tickCSVHeader); err != nil {
		return err
	}
	itoa := strconv.Itoa
	ftoa := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		rec := []string{
			itoa(r.Day), r.Digest, itoa(r.Potential), itoa(r.WantsAny), itoa(r.WantsVirgin), itoa(r.WantsReman),
			itoa(r.UsesVirgin), itoa(r.UsesReman), ftoa(r.CoreStock), ftoa(r.StockVirgin), ftoa(r.StockReman),
			itoa(r.SoldVirgin), itoa(r.SoldReman), itoa(r.CoresCollected), itoa(r.CoresRejected),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
