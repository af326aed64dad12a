package world

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"remansim/internal/sim/catalogs"
)

func buildDeterminismFixture(t *testing.T, seed uint64) *fixture {
	t.Helper()
	ocfg := testOEMConfig()
	ocfg.DeliveryDelay = 2
	f := newFixture(t, true, 100, ocfg, CustomerConfig{Catalog: testCatalog(t, 0.011, 0.015), Patience: 10, ContactsPerDay: 5})
	f.rng = rand.New(rand.NewPCG(seed, seed))
	return f
}

func TestDeterminism_SameSeedSameDigest(t *testing.T) {
	f1 := buildDeterminismFixture(t, 1)
	f2 := buildDeterminismFixture(t, 1)

	for day := 1; day <= 400; day++ {
		f1.day()
		f2.day()
		d1, d2 := f1.w.StateDigest(), f2.w.StateDigest()
		if d1 != d2 {
			t.Fatalf("digest mismatch at day %d: %s vs %s", day, d1, d2)
		}
		if diff := cmp.Diff(f1.w.Snapshot(), f2.w.Snapshot()); diff != "" {
			t.Fatalf("snapshot mismatch at day %d (-w1 +w2):\n%s", day, diff)
		}
	}
	if diff := cmp.Diff(f1.oem.GenerateFinancialReport(), f2.oem.GenerateFinancialReport()); diff != "" {
		t.Fatalf("report mismatch (-w1 +w2):\n%s", diff)
	}
}

func TestDeterminism_DifferentSeedDiverges(t *testing.T) {
	f1 := buildDeterminismFixture(t, 1)
	f2 := buildDeterminismFixture(t, 2)
	for day := 1; day <= 400; day++ {
		f1.day()
		f2.day()
	}
	if f1.w.StateDigest() == f2.w.StateDigest() {
		t.Fatalf("expected different seeds to produce different states")
	}
}

func TestStateDigest_ChangesWithState(t *testing.T) {
	f := buildDeterminismFixture(t, 5)
	base := f.w.StateDigest()
	if base != f.w.StateDigest() {
		t.Fatalf("digest must be stable without state changes")
	}
	f.oem.factoryStock[catalogs.Reman] += 0.25
	if f.w.StateDigest() == base {
		t.Fatalf("digest ignored a stock change")
	}
	f.oem.factoryStock[catalogs.Reman] -= 0.25
	f.customers[3].endOfPatienceDay = 7
	if f.w.StateDigest() == base {
		t.Fatalf("digest ignored a customer timer")
	}
}
