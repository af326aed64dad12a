package world

import (
	"math/rand/v2"
	"testing"

	"remansim/internal/sim/catalogs"
)

func testCatalog(t *testing.T, adv, wom float64) *catalogs.Catalog {
	t.Helper()
	cat, err := catalogs.New([]catalogs.ProductDef{
		{Product: catalogs.Virgin, LifespanMin: 17, LifespanMax: 24, AdvertisingEffectiveness: adv, WordOfMouth: wom},
		{Product: catalogs.Reman, LifespanMin: 17, LifespanMax: 24, AdvertisingEffectiveness: adv, WordOfMouth: wom},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func testOEMConfig() OEMConfig {
	return OEMConfig{
		InitialStock:       catalogs.PerProduct[float64]{10, 0},
		UnitProductionCost: catalogs.PerProduct[float64]{1000, 200},
		RetailPrice:        catalogs.PerProduct[float64]{1500, 900},
		DeliveryDelay:      0,
		ManufactureDelay:   5,
		RemanufactureDelay: 3,
		CoreAcceptanceRate: 0.7,
		CoreCollectionCost: 50,
		CoreDisposalCost:   20,
	}
}

type fixture struct {
	w         *World
	oem       *OEM
	customers []*Customer
	rng       *rand.Rand
}

func newFixture(t *testing.T, reman bool, population int, ocfg OEMConfig, ccfg CustomerConfig) *fixture {
	t.Helper()
	w := New(Options{RemanEnabled: reman})
	oem, err := NewOEM(-1, w, ocfg)
	if err != nil {
		t.Fatalf("NewOEM: %v", err)
	}
	if err := w.AddAgent(oem); err != nil {
		t.Fatalf("AddAgent(oem): %v", err)
	}
	f := &fixture{w: w, oem: oem, rng: rand.New(rand.NewPCG(42, 42))}
	for i := 0; i < population; i++ {
		c, err := NewCustomer(i, w, oem, ccfg)
		if err != nil {
			t.Fatalf("NewCustomer: %v", err)
		}
		if err := w.AddAgent(c); err != nil {
			t.Fatalf("AddAgent(%d): %v", i, err)
		}
		f.customers = append(f.customers, c)
	}
	return f
}

// day runs one full simulated day the way the runner does.
func (f *fixture) day() {
	f.w.Tick()
	f.w.Advance(f.rng)
	f.w.ProcessMessages(f.rng)
}

func checkCustomerInvariants(t *testing.T, c *Customer) {
	t.Helper()
	_, hasActive := c.ActiveProduct()
	switch c.State() {
	case Wants, Uses:
		if !hasActive {
			t.Fatalf("customer %d in %s without active product", c.ID(), c.State())
		}
	case PotentialUser:
		if hasActive {
			t.Fatalf("potential user %d has an active product", c.ID())
		}
	}
	if c.State() == Wants {
		_, d := c.DeliveryDay()
		_, p := c.EndOfPatienceDay()
		if d && p {
			t.Fatalf("customer %d has both delivery and patience timers", c.ID())
		}
	}
}
