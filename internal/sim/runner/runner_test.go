package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"remansim/internal/sim/catalogs"
	"remansim/internal/sim/tuning"
	"remansim/internal/sim/world"
)

func smallScenario(horizon, population int) tuning.Scenario {
	sc := tuning.Default()
	sc.Main.SimulationLength = horizon
	sc.Main.Population = population
	return sc
}

func collect(out *[]TickRecord) Sink {
	return SinkFunc(func(rec TickRecord) error {
		*out = append(*out, rec)
		return nil
	})
}

func TestBuild_RegistersOEMFirst(t *testing.T) {
	r, err := Build(smallScenario(10, 5), Options{RunID: "r1"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]int{OEMID, 0, 1, 2, 3, 4}, r.World.AgentIDs()); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
	if r.ID != "r1" {
		t.Fatalf("run id: %q", r.ID)
	}
	if r2, _ := Build(smallScenario(10, 5), Options{}); r2.ID == "" {
		t.Fatalf("expected generated run id")
	}
}

func TestBuild_RejectsInvalidScenario(t *testing.T) {
	sc := smallScenario(10, 5)
	sc.OEM.ManufactureDelay = 0
	if _, err := Build(sc, Options{}); !errors.Is(err, world.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestExecute_DaysIncreaseByOne(t *testing.T) {
	r, err := Build(smallScenario(60, 20), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var recs []TickRecord
	res, err := r.Execute(context.Background(), collect(&recs))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(recs) != 60 || res.Days != 60 {
		t.Fatalf("records=%d days=%d want 60", len(recs), res.Days)
	}
	for i, rec := range recs {
		if rec.Day != i+1 || rec.Snapshot.Day != rec.Day {
			t.Fatalf("record %d has day %d/%d", i, rec.Day, rec.Snapshot.Day)
		}
		if rec.Snapshot.Customers.Total() != 20 {
			t.Fatalf("day %d: counts total %d", rec.Day, rec.Snapshot.Customers.Total())
		}
	}
	if res.Final.Customers.Total() != 20 {
		t.Fatalf("final counts total %d", res.Final.Customers.Total())
	}
}

func TestExecute_Deterministic(t *testing.T) {
	run := func() ([]TickRecord, Result) {
		r, err := Build(smallScenario(300, 100), Options{RunID: "same"})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		var recs []TickRecord
		res, err := r.Execute(context.Background(), collect(&recs))
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		return recs, res
	}
	recs1, res1 := run()
	recs2, res2 := run()
	if diff := cmp.Diff(recs1, recs2); diff != "" {
		t.Fatalf("tick records differ (-1 +2):\n%s", diff)
	}
	if res1.Digest != res2.Digest {
		t.Fatalf("final digest differs")
	}
	if diff := cmp.Diff(res1.Report, res2.Report); diff != "" {
		t.Fatalf("report differs (-1 +2):\n%s", diff)
	}
}

func TestExecute_NoRemanKeepsCoreAndRemanStock(t *testing.T) {
	sc := tuning.Defaults()[tuning.DefaultNoRemanName]
	sc.Main.SimulationLength = 1
	sc.OEM.RemanStock = 2
	r, err := Build(sc, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var recs []TickRecord
	res, err := r.Execute(context.Background(), collect(&recs))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, rec := range append(recs, TickRecord{Snapshot: res.Final}) {
		if rec.Snapshot.CoreStock != 0 {
			t.Fatalf("day %d: core stock %v", rec.Day, rec.Snapshot.CoreStock)
		}
		if rec.Snapshot.FactoryStock[catalogs.Reman] != 2 {
			t.Fatalf("day %d: reman stock %v", rec.Day, rec.Snapshot.FactoryStock[catalogs.Reman])
		}
	}
}

func TestExecute_SinkErrorAborts(t *testing.T) {
	r, err := Build(smallScenario(50, 5), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	boom := errors.New("disk full")
	sink := SinkFunc(func(rec TickRecord) error {
		if rec.Day == 3 {
			return boom
		}
		return nil
	})
	if _, err := r.Execute(context.Background(), sink); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if r.World.Now() != 3 {
		t.Fatalf("run must stop at the failing day, now=%d", r.World.Now())
	}
}

func TestExecute_ContextCancelBetweenDays(t *testing.T) {
	r, err := Build(smallScenario(1000, 5), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sink := SinkFunc(func(rec TickRecord) error {
		if rec.Day == 10 {
			cancel()
		}
		return nil
	})
	if _, err := r.Execute(ctx, sink); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.World.Now() != 10 {
		t.Fatalf("now=%d want 10", r.World.Now())
	}
}

func TestExecute_Paced(t *testing.T) {
	r, err := Build(smallScenario(3, 2), Options{Pace: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	start := time.Now()
	if _, err := r.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("paced run finished too fast: %v", elapsed)
	}
}
