package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"remansim/internal/sim/catalogs"
	"remansim/internal/sim/runner"
	"remansim/internal/sim/world"
)

func TestRun_WriteTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "run_1", "Default")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := runner.TickRecord{
		Day: 12,
		Snapshot: world.TickSnapshot{
			Day: 12,
			Customers: world.StateCounts{
				PotentialUsers: 80,
				Wants:          catalogs.PerProduct[int]{3, 1},
				Uses:           catalogs.PerProduct[int]{12, 2},
				WantsAny:       2,
			},
			CoreStock:      1.5,
			FactoryStock:   catalogs.PerProduct[float64]{4, 0.5},
			ProductsSold:   catalogs.PerProduct[int]{20, 3},
			CoresCollected: 5,
			CoresRejected:  1,
		},
	}
	if err := m.WriteTick(rec); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}

	if got := testutil.ToFloat64(m.day); got != 12 {
		t.Fatalf("day=%v want 12", got)
	}
	if got := testutil.ToFloat64(m.customers.WithLabelValues("uses", "virgin")); got != 12 {
		t.Fatalf("uses virgin=%v want 12", got)
	}
	if got := testutil.ToFloat64(m.customers.WithLabelValues("potential_user", "")); got != 80 {
		t.Fatalf("potential=%v want 80", got)
	}
	if got := testutil.ToFloat64(m.coreStock); got != 1.5 {
		t.Fatalf("core stock=%v want 1.5", got)
	}

	want := `
# HELP remansim_products_sold Cumulative units sold.
# TYPE remansim_products_sold gauge
remansim_products_sold{product="reman",run_id="run_1",scenario="Default"} 3
remansim_products_sold{product="virgin",run_id="run_1",scenario="Default"} 20
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "remansim_products_sold"); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, "run_1", "Default"); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(reg, "run_1", "Default"); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
