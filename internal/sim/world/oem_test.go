package world

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"remansim/internal/sim/catalogs"
)

func TestNewOEM_RejectsDelayBelowOne(t *testing.T) {
	w := New(Options{})
	for _, tc := range []struct {
		name  string
		mod   func(*OEMConfig)
		field string
	}{
		{"manufacture zero", func(c *OEMConfig) { c.ManufactureDelay = 0 }, "manufacture_delay"},
		{"manufacture fraction", func(c *OEMConfig) { c.ManufactureDelay = 0.5 }, "manufacture_delay"},
		{"manufacture NaN", func(c *OEMConfig) { c.ManufactureDelay = math.NaN() }, "manufacture_delay"},
		{"remanufacture zero", func(c *OEMConfig) { c.RemanufactureDelay = 0 }, "remanufacture_delay"},
		{"negative delivery", func(c *OEMConfig) { c.DeliveryDelay = -1 }, "delivery_delay"},
		{"acceptance above one", func(c *OEMConfig) { c.CoreAcceptanceRate = 1.5 }, "core_acceptance_rate"},
		{"negative stock", func(c *OEMConfig) { c.InitialStock[catalogs.Reman] = -1 }, "initial_stock.reman"},
		{"infinite price", func(c *OEMConfig) { c.RetailPrice[catalogs.Virgin] = math.Inf(1) }, "retail_price.virgin"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testOEMConfig()
			tc.mod(&cfg)
			_, err := NewOEM(-1, w, cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tc.field {
				t.Fatalf("field: got %+v want %q", ce, tc.field)
			}
		})
	}
}

func TestOEM_RequestProduct(t *testing.T) {
	cfg := testOEMConfig()
	cfg.InitialStock = catalogs.PerProduct[float64]{1.5, 0.9}
	w := New(Options{RemanEnabled: true})
	o, err := NewOEM(-1, w, cfg)
	if err != nil {
		t.Fatalf("NewOEM: %v", err)
	}

	if !o.RequestProduct(catalogs.Virgin) {
		t.Fatalf("first virgin request should succeed")
	}
	if got := o.FactoryStock(catalogs.Virgin); got != 0.5 {
		t.Fatalf("virgin stock: got %v want 0.5", got)
	}
	if o.RequestProduct(catalogs.Virgin) {
		t.Fatalf("fractional stock must not sell")
	}
	if o.RequestProduct(catalogs.Reman) {
		t.Fatalf("reman stock below one must not sell")
	}
	if got := o.FactoryStock(catalogs.Reman); got != 0.9 {
		t.Fatalf("failed request changed stock: %v", got)
	}
	want := catalogs.PerProduct[int]{1, 0}
	got := catalogs.PerProduct[int]{o.ProductsSold(catalogs.Virgin), o.ProductsSold(catalogs.Reman)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sold mismatch (-want +got):\n%s", diff)
	}
}

func TestOEM_ReturnProduct(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	w := New(Options{RemanEnabled: true})

	cfg := testOEMConfig()
	cfg.CoreAcceptanceRate = 1
	o, _ := NewOEM(-1, w, cfg)
	for i := 0; i < 5; i++ {
		o.ReturnProduct(rng)
	}
	if o.CoreStock() != 5 || o.CoresCollected() != 5 || o.CoresRejected() != 0 {
		t.Fatalf("accept all: core=%v collected=%d rejected=%d", o.CoreStock(), o.CoresCollected(), o.CoresRejected())
	}

	cfg.CoreAcceptanceRate = 0
	o, _ = NewOEM(-1, w, cfg)
	for i := 0; i < 5; i++ {
		o.ReturnProduct(rng)
	}
	if o.CoreStock() != 0 || o.CoresCollected() != 5 || o.CoresRejected() != 5 {
		t.Fatalf("reject all: core=%v collected=%d rejected=%d", o.CoreStock(), o.CoresCollected(), o.CoresRejected())
	}
}

func TestOEM_UpdateProductionFollowsDemand(t *testing.T) {
	cfg := testOEMConfig()
	cfg.InitialStock = catalogs.PerProduct[float64]{0, 0}
	cfg.InitialCoreStock = 3
	cfg.ManufactureDelay = 4
	cfg.RemanufactureDelay = 2
	f := newFixture(t, true, 10, cfg, CustomerConfig{Catalog: testCatalog(t, 0, 0), Patience: 10})
	for i, c := range f.customers {
		switch {
		case i < 4:
			c.state, c.active, c.hasActive = Wants, catalogs.Virgin, true
		case i < 8:
			c.state, c.active, c.hasActive = Wants, catalogs.Reman, true
		default:
			c.state = WantsAny
		}
	}

	f.w.Tick()
	f.oem.UpdateProduction()

	// virgin: (4+2)/4; reman desired (4+2)/2 = 3 capped at core/delay = 1.5.
	if got := f.oem.ProductionRate(catalogs.Virgin); got != 1.5 {
		t.Fatalf("virgin rate: got %v want 1.5", got)
	}
	if got := f.oem.ProductionRate(catalogs.Reman); got != 1.5 {
		t.Fatalf("reman rate: got %v want 1.5", got)
	}
	if got := f.oem.CoreStock(); got != 1.5 {
		t.Fatalf("core stock: got %v want 1.5", got)
	}
	if got := f.oem.FactoryStock(catalogs.Reman); got != 1.5 {
		t.Fatalf("reman stock: got %v want 1.5", got)
	}
}

func TestOEM_RemanCappedByCoreStock(t *testing.T) {
	cfg := testOEMConfig()
	cfg.InitialCoreStock = 10
	f := newFixture(t, true, 200, cfg, CustomerConfig{Catalog: testCatalog(t, 0, 0), Patience: 10})
	for _, c := range f.customers {
		c.state, c.active, c.hasActive = Wants, catalogs.Reman, true
	}
	for day := 0; day < 30; day++ {
		f.w.Tick()
		before := f.oem.CoreStock()
		f.oem.UpdateProduction()
		rate := f.oem.ProductionRate(catalogs.Reman)
		if limit := before / cfg.RemanufactureDelay; rate > limit+1e-12 {
			t.Fatalf("day %d: reman rate %v exceeds %v", f.w.Now(), rate, limit)
		}
		if f.oem.CoreStock() < 0 {
			t.Fatalf("day %d: negative core stock %v", f.w.Now(), f.oem.CoreStock())
		}
	}
}

func TestOEM_RemanInactiveProducesNothing(t *testing.T) {
	cfg := testOEMConfig()
	cfg.InitialStock = catalogs.PerProduct[float64]{0, 4}
	cfg.InitialCoreStock = 9
	f := newFixture(t, false, 20, cfg, CustomerConfig{Catalog: testCatalog(t, 0.3, 0), Patience: 2})

	for i := 0; i < 100; i++ {
		f.day()
	}
	if got := f.oem.FactoryStock(catalogs.Reman); got != 4 {
		t.Fatalf("reman stock: got %v want 4", got)
	}
	if got := f.oem.CoreStock(); got != 9 {
		t.Fatalf("core stock: got %v want 9", got)
	}
	if f.oem.ProductsSold(catalogs.Reman) != 0 || f.oem.TotalProduced(catalogs.Reman) != 0 {
		t.Fatalf("reman must stay untouched")
	}
}

func TestOEM_GenerateFinancialReport(t *testing.T) {
	cfg := testOEMConfig()
	cfg.InitialStock = catalogs.PerProduct[float64]{2, 1}
	cfg.CoreAcceptanceRate = 0
	w := New(Options{RemanEnabled: true})
	o, _ := NewOEM(-1, w, cfg)
	o.RequestProduct(catalogs.Virgin)
	o.RequestProduct(catalogs.Virgin)
	o.RequestProduct(catalogs.Reman)
	o.totalProduced = catalogs.PerProduct[float64]{3, 0.5}
	o.ReturnProduct(rand.New(rand.NewPCG(1, 1)))

	got := o.GenerateFinancialReport()
	want := FinancialReport{
		Costs: CostBreakdown{
			Production:      catalogs.PerProduct[float64]{3000, 100},
			ProductionTotal: 3100,
			Collection:      50,
			Disposal:        20,
		},
		TotalCost:    3170,
		Revenue:      catalogs.PerProduct[float64]{3000, 900},
		TotalRevenue: 3900,
		Profit:       730,
		Stats: OperationalStats{
			Produced:       catalogs.PerProduct[float64]{3, 0.5},
			Sold:           catalogs.PerProduct[int]{2, 1},
			FactoryStock:   catalogs.PerProduct[float64]{0, 0},
			CoresCollected: 1,
			CoresRejected:  1,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if again := o.GenerateFinancialReport(); !cmp.Equal(got, again) {
		t.Fatalf("report generation must not change state")
	}
}
