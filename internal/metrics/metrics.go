// Package metrics exposes the per-day run state as Prometheus gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"remansim/internal/sim/catalogs"
	"remansim/internal/sim/runner"
)

const namespace = "remansim"

// Run mirrors the latest TickRecord of one run. It is a runner.Sink.
type Run struct {
	day       prometheus.Gauge
	customers *prometheus.GaugeVec
	factory   *prometheus.GaugeVec
	rate      *prometheus.GaugeVec
	sold      *prometheus.GaugeVec
	coreStock prometheus.Gauge
	cores     *prometheus.GaugeVec

	// Counted by the observer hub, not by WriteTick.
	ObserverDrops prometheus.Counter
	Observers     prometheus.Gauge
}

// New registers the run collectors on reg. Every series carries the run id and
// scenario as constant labels.
func New(reg prometheus.Registerer, runID, scenario string) (*Run, error) {
	labels := prometheus.Labels{"run_id": runID, "scenario": scenario}
	opts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help, ConstLabels: labels}
	}

	m := &Run{
		day:       prometheus.NewGauge(opts("day", "Last simulated day published.")),
		customers: prometheus.NewGaugeVec(opts("customers", "Customers by state and product."), []string{"state", "product"}),
		factory:   prometheus.NewGaugeVec(opts("factory_stock", "OEM finished-goods stock."), []string{"product"}),
		rate:      prometheus.NewGaugeVec(opts("production_rate", "Units produced per day."), []string{"product"}),
		sold:      prometheus.NewGaugeVec(opts("products_sold", "Cumulative units sold."), []string{"product"}),
		coreStock: prometheus.NewGauge(opts("core_stock", "Accepted cores awaiting remanufacture.")),
		cores:     prometheus.NewGaugeVec(opts("cores", "Cumulative cores by outcome."), []string{"outcome"}),
		ObserverDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "observer_dropped_ticks_total",
			Help:        "Ticks replaced before a slow observer received them.",
			ConstLabels: labels,
		}),
		Observers: prometheus.NewGauge(opts("observers", "Connected observer sessions.")),
	}
	for _, c := range []prometheus.Collector{
		m.day, m.customers, m.factory, m.rate, m.sold, m.coreStock, m.cores, m.ObserverDrops, m.Observers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Run) WriteTick(rec runner.TickRecord) error {
	s := rec.Snapshot
	m.day.Set(float64(rec.Day))
	m.customers.WithLabelValues("potential_user", "").Set(float64(s.Customers.PotentialUsers))
	m.customers.WithLabelValues("wants_any", "").Set(float64(s.Customers.WantsAny))
	for _, p := range catalogs.All {
		name := p.String()
		m.customers.WithLabelValues("wants", name).Set(float64(s.Customers.Wants[p]))
		m.customers.WithLabelValues("uses", name).Set(float64(s.Customers.Uses[p]))
		m.factory.WithLabelValues(name).Set(s.FactoryStock[p])
		m.rate.WithLabelValues(name).Set(s.ProductionRate[p])
		m.sold.WithLabelValues(name).Set(float64(s.ProductsSold[p]))
	}
	m.coreStock.Set(s.CoreStock)
	m.cores.WithLabelValues("collected").Set(float64(s.CoresCollected))
	m.cores.WithLabelValues("rejected").Set(float64(s.CoresRejected))
	return nil
}
