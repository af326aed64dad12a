package snapshot

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"remansim/internal/sim/runner"
	"remansim/internal/sim/tuning"
)

func TestWriteReadResult(t *testing.T) {
	sc := tuning.Default()
	sc.Main.SimulationLength = 30
	sc.Main.Population = 25
	r, err := runner.Build(sc, runner.Options{RunID: "abc"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	path := PathFor(t.TempDir())
	want := New(res)
	if err := WriteResult(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if diff := cmp.Diff(want.Header, h); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}
	if h.Days != 30 || h.Population != 25 || !h.Reman || h.RunID != "abc" {
		t.Fatalf("header fields: %+v", h)
	}

	got, err := ReadResult(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
}

func TestReadResult_Missing(t *testing.T) {
	if _, err := ReadResult(PathFor(t.TempDir())); err == nil {
		t.Fatalf("expected error")
	}
}
