package world

import (
	"math"
	"math/rand/v2"

	"remansim/internal/sim/catalogs"
)

type OEMConfig struct {
	InitialStock       catalogs.PerProduct[float64] `json:"initial_stock"`
	InitialCoreStock   float64                      `json:"initial_core_stock"`
	UnitProductionCost catalogs.PerProduct[float64] `json:"unit_production_cost"`
	RetailPrice        catalogs.PerProduct[float64] `json:"retail_price"`

	// DeliveryDelay is the number of days between a confirmed purchase and
	// delivery; 0 delivers immediately.
	DeliveryDelay int `json:"delivery_delay"`

	// Time constants of the first-order production lag. Both must be >= 1.
	ManufactureDelay   float64 `json:"manufacture_delay"`
	RemanufactureDelay float64 `json:"remanufacture_delay"`

	CoreAcceptanceRate float64 `json:"core_acceptance_rate"`
	CoreCollectionCost float64 `json:"core_collection_cost"`
	CoreDisposalCost   float64 `json:"core_disposal_cost"`
}

func (c OEMConfig) Validate() error {
	if !(c.ManufactureDelay >= 1) || math.IsInf(c.ManufactureDelay, 0) {
		return configErr("manufacture_delay", "must be >= 1, got %v", c.ManufactureDelay)
	}
	if !(c.RemanufactureDelay >= 1) || math.IsInf(c.RemanufactureDelay, 0) {
		return configErr("remanufacture_delay", "must be >= 1, got %v", c.RemanufactureDelay)
	}
	if c.DeliveryDelay < 0 {
		return configErr("delivery_delay", "must be >= 0, got %d", c.DeliveryDelay)
	}
	if !(c.CoreAcceptanceRate >= 0 && c.CoreAcceptanceRate <= 1) {
		return configErr("core_acceptance_rate", "must be within [0,1], got %v", c.CoreAcceptanceRate)
	}
	for _, p := range catalogs.All {
		if err := nonNegative("initial_stock."+p.String(), c.InitialStock[p]); err != nil {
			return err
		}
		if err := nonNegative("unit_production_cost."+p.String(), c.UnitProductionCost[p]); err != nil {
			return err
		}
		if err := nonNegative("retail_price."+p.String(), c.RetailPrice[p]); err != nil {
			return err
		}
	}
	if err := nonNegative("initial_core_stock", c.InitialCoreStock); err != nil {
		return err
	}
	if err := nonNegative("core_collection_cost", c.CoreCollectionCost); err != nil {
		return err
	}
	return nonNegative("core_disposal_cost", c.CoreDisposalCost)
}

func nonNegative(field string, v float64) error {
	if !(v >= 0) || math.IsInf(v, 0) {
		return configErr(field, "must be a finite value >= 0, got %v", v)
	}
	return nil
}

// OEM is the single producer. It sells from per-product factory stock,
// collects cores from failed units, and refills stock with a smoothed
// production flow driven by the previous day's demand.
type OEM struct {
	id    int
	world *World
	cfg   OEMConfig

	factoryStock   catalogs.PerProduct[float64]
	coreStock      float64
	productionRate catalogs.PerProduct[float64]

	productsSold   catalogs.PerProduct[int]
	totalProduced  catalogs.PerProduct[float64]
	coresCollected int
	coresRejected  int
}

func NewOEM(id int, w *World, cfg OEMConfig) (*OEM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OEM{
		id:           id,
		world:        w,
		cfg:          cfg,
		factoryStock: cfg.InitialStock,
		coreStock:    cfg.InitialCoreStock,
	}, nil
}

func (o *OEM) ID() int         { return o.id }
func (o *OEM) Kind() AgentKind { return KindOEM }
func (o *OEM) sealed()         {}

func (o *OEM) Config() OEMConfig  { return o.cfg }
func (o *OEM) DeliveryDelay() int { return o.cfg.DeliveryDelay }

func (o *OEM) FactoryStock(p catalogs.Product) float64   { return o.factoryStock[p] }
func (o *OEM) CoreStock() float64                        { return o.coreStock }
func (o *OEM) ProductionRate(p catalogs.Product) float64 { return o.productionRate[p] }
func (o *OEM) ProductsSold(p catalogs.Product) int       { return o.productsSold[p] }
func (o *OEM) TotalProduced(p catalogs.Product) float64  { return o.totalProduced[p] }
func (o *OEM) CoresCollected() int                       { return o.coresCollected }
func (o *OEM) CoresRejected() int                        { return o.coresRejected }

// Advance runs the daily production update.
func (o *OEM) Advance(*rand.Rand) { o.UpdateProduction() }

func (o *OEM) HandleMessage(Message, *rand.Rand) {}

// RequestProduct sells one whole unit of p if available. A stock-out returns
// false and changes nothing.
func (o *OEM) RequestProduct(p catalogs.Product) bool {
	if o.factoryStock[p] < 1 {
		return false
	}
	o.factoryStock[p]--
	o.productsSold[p]++
	return true
}

// ReturnProduct collects one core from a failed unit. Accepted cores become
// remanufacturing feedstock; rejected ones are disposed.
func (o *OEM) ReturnProduct(rng *rand.Rand) {
	o.coresCollected++
	if bernoulli(rng, o.cfg.CoreAcceptanceRate) {
		o.coreStock++
		return
	}
	o.coresRejected++
}

// UpdateProduction converts the demand counted at the start of the day into a
// production flow: demand / delay units per day. Virgin output is uncapped;
// reman output cannot exceed coreStock / remanufactureDelay.
func (o *OEM) UpdateProduction() {
	counts := o.world.Counts()

	virgin := float64(counts.Wants[catalogs.Virgin]+counts.WantsAny) / o.cfg.ManufactureDelay
	o.productionRate[catalogs.Virgin] = virgin
	o.factoryStock[catalogs.Virgin] += virgin
	o.totalProduced[catalogs.Virgin] += virgin

	if !o.world.IsActive(catalogs.Reman) {
		o.productionRate[catalogs.Reman] = 0
		return
	}
	desired := float64(counts.Wants[catalogs.Reman]+counts.WantsAny) / o.cfg.RemanufactureDelay
	reman := math.Min(desired, o.coreStock/o.cfg.RemanufactureDelay)
	o.productionRate[catalogs.Reman] = reman
	o.factoryStock[catalogs.Reman] += reman
	o.totalProduced[catalogs.Reman] += reman
	o.coreStock -= reman
	if o.coreStock < 0 {
		o.coreStock = 0
	}
}

type CostBreakdown struct {
	Production      catalogs.PerProduct[float64] `json:"production"`
	ProductionTotal float64                      `json:"production_total"`
	Collection      float64                      `json:"collection"`
	Disposal        float64                      `json:"disposal"`
}

type OperationalStats struct {
	Produced       catalogs.PerProduct[float64] `json:"produced"`
	Sold           catalogs.PerProduct[int]     `json:"sold"`
	FactoryStock   catalogs.PerProduct[float64] `json:"factory_stock"`
	CoreStock      float64                      `json:"core_stock"`
	CoresCollected int                          `json:"cores_collected"`
	CoresAccepted  int                          `json:"cores_accepted"`
	CoresRejected  int                          `json:"cores_rejected"`
}

type FinancialReport struct {
	Costs        CostBreakdown                `json:"costs"`
	TotalCost    float64                      `json:"total_cost"`
	Revenue      catalogs.PerProduct[float64] `json:"revenue"`
	TotalRevenue float64                      `json:"total_revenue"`
	Profit       float64                      `json:"profit"`
	Stats        OperationalStats             `json:"stats"`
}

// GenerateFinancialReport summarizes the accumulated counters. It has no side
// effects.
func (o *OEM) GenerateFinancialReport() FinancialReport {
	var r FinancialReport
	for _, p := range catalogs.All {
		r.Costs.Production[p] = o.cfg.UnitProductionCost[p] * o.totalProduced[p]
		r.Costs.ProductionTotal += r.Costs.Production[p]
		r.Revenue[p] = o.cfg.RetailPrice[p] * float64(o.productsSold[p])
		r.TotalRevenue += r.Revenue[p]
	}
	r.Costs.Collection = float64(o.coresCollected) * o.cfg.CoreCollectionCost
	r.Costs.Disposal = float64(o.coresRejected) * o.cfg.CoreDisposalCost
	r.TotalCost = r.Costs.ProductionTotal + r.Costs.Collection + r.Costs.Disposal
	r.Profit = r.TotalRevenue - r.TotalCost

	r.Stats = OperationalStats{
		Produced:       o.totalProduced,
		Sold:           o.productsSold,
		FactoryStock:   o.factoryStock,
		CoreStock:      o.coreStock,
		CoresCollected: o.coresCollected,
		CoresAccepted:  o.coresCollected - o.coresRejected,
		CoresRejected:  o.coresRejected,
	}
	return r
}
