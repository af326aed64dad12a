package world

import "remansim/internal/sim/catalogs"

// TickSnapshot is the observable state published once per day.
type TickSnapshot struct {
	Day       int         `json:"day"`
	Customers StateCounts `json:"customers"`

	CoreStock      float64                      `json:"core_stock"`
	FactoryStock   catalogs.PerProduct[float64] `json:"factory_stock"`
	ProductionRate catalogs.PerProduct[float64] `json:"production_rate"`
	ProductsSold   catalogs.PerProduct[int]     `json:"products_sold"`
	CoresCollected int                          `json:"cores_collected"`
	CoresRejected  int                          `json:"cores_rejected"`
}

// Snapshot reports the counts captured by the last Tick together with the
// producer's current stocks and cumulative counters.
func (w *World) Snapshot() TickSnapshot {
	s := TickSnapshot{Day: w.now, Customers: w.counts}
	if o := w.OEM(); o != nil {
		s.CoreStock = o.coreStock
		s.FactoryStock = o.factoryStock
		s.ProductionRate = o.productionRate
		s.ProductsSold = o.productsSold
		s.CoresCollected = o.coresCollected
		s.CoresRejected = o.coresRejected
	}
	return s
}
