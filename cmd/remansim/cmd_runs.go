package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"remansim/internal/persistence/indexdb"
	"remansim/internal/persistence/snapshot"
)

func newRunsCmd(a *app) *cobra.Command {
	var (
		limit int
		scan  bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `Lists runs from the run index, newest first. --scan reads the result
headers under <data>/runs instead, which works without an index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows []indexdb.RunRow
			if scan {
				var err error
				rows, err = scanRuns(a.dataDir)
				if err != nil {
					return err
				}
				if limit > 0 && len(rows) > limit {
					rows = rows[:limit]
				}
			} else {
				idx, err := a.requireIndex(cmd)
				if err != nil {
					return err
				}
				defer idx.Close()
				rows, err = idx.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				if rows == nil {
					rows = []indexdb.RunRow{}
				}
				return json.NewEncoder(out).Encode(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no runs")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSCENARIO\tSEED\tPOP\tDAYS\tREMAN\tPROFIT\tSTARTED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d/%d\t%t\t%.2f\t%s\n",
					r.RunID, r.Scenario, r.Seed, r.Population, r.Days, r.Horizon, r.Reman, r.Profit, r.StartedAt)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")
	cmd.Flags().BoolVar(&scan, "scan", false, "read result headers from disk instead of the index")
	return cmd
}

// scanRuns lists completed runs from their result headers, sorted by run id.
// Profit and timestamps are not in the header and stay empty.
func scanRuns(dataDir string) ([]indexdb.RunRow, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "runs", "*", snapshot.FileName))
	if err != nil {
		return nil, err
	}
	var rows []indexdb.RunRow
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", p, err)
			continue
		}
		rows = append(rows, indexdb.RunRow{
			RunID:       h.RunID,
			Scenario:    h.Scenario,
			Seed:        h.Seed,
			Population:  h.Population,
			Horizon:     h.Horizon,
			Reman:       h.Reman,
			Days:        h.Days,
			FinalDigest: h.Digest,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RunID < rows[j].RunID })
	return rows, nil
}
