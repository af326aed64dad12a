package log

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"remansim/internal/sim/runner"
	"remansim/internal/sim/tuning"
)

func TestJSONLZstdWriter_RotatesBySegment(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "ticks", 10)
	for day := 1; day <= 25; day++ {
		if err := w.Write(day, runner.TickRecord{Day: day}); err != nil {
			t.Fatalf("write day %d: %v", day, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListTickFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	want := []string{"ticks-000001.jsonl.zst", "ticks-000011.jsonl.zst", "ticks-000021.jsonl.zst"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("files (-want +got):\n%s", diff)
	}

	var days []int
	if err := ReadTicks(dir, func(rec runner.TickRecord) error {
		days = append(days, rec.Day)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(days) != 25 {
		t.Fatalf("read %d records want 25", len(days))
	}
	for i, d := range days {
		if d != i+1 {
			t.Fatalf("record %d: day %d", i, d)
		}
	}
}

func TestTickLogger_RoundTripsRun(t *testing.T) {
	runDir := t.TempDir()
	sc := tuning.Default()
	sc.Main.SimulationLength = 40
	sc.Main.Population = 30
	r, err := runner.Build(sc, runner.Options{RunID: "t"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	tl := NewTickLogger(runDir)
	var want []runner.TickRecord
	mem := runner.SinkFunc(func(rec runner.TickRecord) error {
		want = append(want, rec)
		return nil
	})
	if _, err := r.Execute(context.Background(), tl, mem); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []runner.TickRecord
	if err := ReadTicks(TicksDir(runDir), func(rec runner.TickRecord) error {
		got = append(got, rec)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestReadTicks_EmptyDir(t *testing.T) {
	if err := ReadTicks(t.TempDir(), func(runner.TickRecord) error { return nil }); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
