package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	persistlog "remansim/internal/persistence/log"
	"remansim/internal/persistence/snapshot"
	"remansim/internal/sim/runner"
)

// DivergenceError reports the first day whose recomputed digest differs from
// the recorded one.
type DivergenceError struct {
	Day      int
	Recorded string
	Replayed string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("replay diverged at day %d: recorded %s, replayed %s", e.Day, e.Recorded, e.Replayed)
}

type replaySummary struct {
	RunID       string `json:"run_id"`
	Scenario    string `json:"scenario"`
	DaysChecked int    `json:"days_checked"`
	Digest      string `json:"digest"`
}

func newReplayCmd(a *app) *cobra.Command {
	var runRef string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute a recorded run and verify every day's state digest",
		Long: `Reads the scenario from a run's result file, re-executes it and compares
each day's state digest with the tick log, then the final digest with the
result header. The first mismatch is reported with its day.

--run accepts a run directory or a run id under <data>/runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(runRef) == "" {
				return fmt.Errorf("--run is required")
			}
			dir := a.resolveRunDir(runRef)

			rec, err := snapshot.ReadResult(snapshot.PathFor(dir))
			if err != nil {
				return fmt.Errorf("read result: %w", err)
			}
			recorded := map[int]string{}
			if err := persistlog.ReadTicks(persistlog.TicksDir(dir), func(t runner.TickRecord) error {
				recorded[t.Day] = t.Digest
				return nil
			}); err != nil {
				return fmt.Errorf("read tick log: %w", err)
			}

			summary, err := replay(cmd, a, rec, recorded)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return json.NewEncoder(out).Encode(summary)
			}
			fmt.Fprintf(out, "replay ok: run %s scenario=%s days=%d digest=%s\n",
				summary.RunID, summary.Scenario, summary.DaysChecked, summary.Digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&runRef, "run", "", "run directory or run id")
	return cmd
}

func replay(cmd *cobra.Command, a *app, rec snapshot.ResultV1, recorded map[int]string) (replaySummary, error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := rec.Result.Scenario
	r, err := runner.Build(sc, runner.Options{RunID: rec.Header.RunID, Logger: a.log})
	if err != nil {
		return replaySummary{}, fmt.Errorf("rebuild: %w", err)
	}

	checked := 0
	verify := runner.SinkFunc(func(t runner.TickRecord) error {
		want, ok := recorded[t.Day]
		if !ok {
			return nil
		}
		if want != t.Digest {
			return &DivergenceError{Day: t.Day, Recorded: want, Replayed: t.Digest}
		}
		checked++
		return nil
	})
	res, err := r.Execute(ctx, verify)
	if err != nil {
		return replaySummary{}, err
	}
	if len(recorded) > 0 && checked != len(recorded) {
		return replaySummary{}, fmt.Errorf("tick log has %d days, replay covered %d", len(recorded), checked)
	}
	if res.Digest != rec.Header.Digest {
		return replaySummary{}, &DivergenceError{Day: res.Days, Recorded: rec.Header.Digest, Replayed: res.Digest}
	}
	return replaySummary{
		RunID:       rec.Header.RunID,
		Scenario:    rec.Header.Scenario,
		DaysChecked: checked,
		Digest:      res.Digest,
	}, nil
}

// resolveRunDir accepts a directory path or a bare run id.
func (a *app) resolveRunDir(ref string) string {
	if st, err := os.Stat(ref); err == nil && st.IsDir() {
		return ref
	}
	if strings.ContainsRune(ref, filepath.Separator) {
		return ref
	}
	return a.runDir(ref)
}
