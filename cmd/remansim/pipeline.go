package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	persistlog "remansim/internal/persistence/log"
	"remansim/internal/persistence/snapshot"
	"remansim/internal/sim/runner"
	"remansim/internal/sim/tuning"
)

func (a *app) runDir(runID string) string {
	return filepath.Join(a.dataDir, "runs", runID)
}

// executeRun builds and runs one scenario with the standard outputs: tick log,
// result file, run index and, when configured, the S3 mirror. extra sinks see
// every tick after the persistent ones.
func (a *app) executeRun(ctx context.Context, sc tuning.Scenario, opts runner.Options, extra ...runner.Sink) (runner.Result, string, error) {
	opts.Logger = a.log
	r, err := runner.Build(sc, opts)
	if err != nil {
		return runner.Result{}, "", fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	runDir := a.runDir(r.ID)
	if err := clearRunOutputs(runDir); err != nil {
		return runner.Result{}, "", err
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return runner.Result{}, "", err
	}

	idx, err := openRunIndex(ctx, a.dataDir, a.log)
	if err != nil {
		return runner.Result{}, "", fmt.Errorf("run index: %w", err)
	}
	if idx != nil {
		defer func() {
			st := idx.Stats()
			if st.DropTickTotal > 0 {
				a.log.Warn("index dropped ticks", zap.Uint64("dropped", st.DropTickTotal))
			}
			if err := idx.Close(); err != nil {
				a.log.Warn("close run index", zap.Error(err))
			}
		}()
	}
	mirror, err := buildMirror(ctx, a.dataDir, a.log)
	if err != nil {
		return runner.Result{}, "", fmt.Errorf("s3 mirror: %w", err)
	}
	defer mirror.Close()

	ticks := persistlog.NewTickLogger(runDir)
	sinks := []runner.Sink{ticks}
	if idx != nil {
		idx.RecordRunStart(r, time.Now())
		sinks = append(sinks, idx.RunSink(r.ID))
	}
	sinks = append(sinks, extra...)

	res, err := r.Execute(ctx, sinks...)
	if cerr := ticks.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close tick log: %w", cerr)
	}
	if err != nil {
		return res, runDir, err
	}

	if err := snapshot.WriteResult(snapshot.PathFor(runDir), snapshot.New(res)); err != nil {
		return res, runDir, fmt.Errorf("write result: %w", err)
	}
	if idx != nil {
		if err := idx.RecordRunEnd(res); err != nil {
			return res, runDir, fmt.Errorf("index run end: %w", err)
		}
	}
	if err := mirror.EnqueueTree(runDir); err != nil {
		a.log.Warn("mirror enqueue", zap.String("dir", runDir), zap.Error(err))
	}
	return res, runDir, nil
}

// clearRunOutputs removes what an earlier run under the same id left behind.
// The tick log appends to existing segments.
func clearRunOutputs(runDir string) error {
	if err := os.RemoveAll(persistlog.TicksDir(runDir)); err != nil {
		return fmt.Errorf("clear tick log: %w", err)
	}
	if err := os.Remove(snapshot.PathFor(runDir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear result: %w", err)
	}
	return nil
}
