package runner

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"remansim/internal/sim/tuning"
	"remansim/internal/sim/world"
)

// OEMID is the id the producer is registered under. Customers use 0..N-1.
const OEMID = -1

// TickRecord is what sinks receive once per day, after the clock advanced and
// before any agent acted.
type TickRecord struct {
	Day      int                `json:"day"`
	Digest   string             `json:"digest"`
	Snapshot world.TickSnapshot `json:"snapshot"`
}

type Sink interface {
	WriteTick(TickRecord) error
}

type SinkFunc func(TickRecord) error

func (f SinkFunc) WriteTick(rec TickRecord) error { return f(rec) }

type Options struct {
	// RunID names the run in logs and outputs. Empty generates a UUID.
	RunID  string
	Logger *zap.Logger
	// Pace waits this long between days. Zero runs as fast as possible.
	Pace time.Duration
}

type Run struct {
	ID       string
	Scenario tuning.Scenario
	World    *world.World
	OEM      *world.OEM

	rng  *rand.Rand
	log  *zap.Logger
	pace time.Duration
}

// Result is the outcome of a completed run.
type Result struct {
	RunID      string                `json:"run_id"`
	Scenario   tuning.Scenario       `json:"scenario"`
	Days       int                   `json:"days"`
	Final      world.TickSnapshot    `json:"final"`
	Digest     string                `json:"digest"`
	Report     world.FinancialReport `json:"report"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// NewRNG returns the single random source of a run.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Build validates the scenario and constructs the world: the OEM first, then
// the customers in id order.
func Build(sc tuning.Scenario, opts Options) (*Run, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}

	w := world.New(world.Options{RemanEnabled: sc.Main.EnableReman})
	oem, err := world.NewOEM(OEMID, w, sc.OEMConfig())
	if err != nil {
		return nil, err
	}
	if err := w.AddAgent(oem); err != nil {
		return nil, err
	}
	cat, err := sc.Catalog()
	if err != nil {
		return nil, err
	}
	ccfg := sc.CustomerConfig(cat)
	for i := 0; i < sc.Main.Population; i++ {
		c, err := world.NewCustomer(i, w, oem, ccfg)
		if err != nil {
			return nil, err
		}
		if err := w.AddAgent(c); err != nil {
			return nil, err
		}
	}

	return &Run{
		ID:       id,
		Scenario: sc,
		World:    w,
		OEM:      oem,
		rng:      NewRNG(sc.Main.Seed),
		log:      log.With(zap.String("run_id", id), zap.String("scenario", sc.Name)),
		pace:     opts.Pace,
	}, nil
}

// Step simulates one day. Sinks see the day's snapshot before agents act; the
// first sink error stops the step before Advance.
func (r *Run) Step(sinks ...Sink) (TickRecord, error) {
	r.World.Tick()
	rec := TickRecord{
		Day:      r.World.Now(),
		Digest:   r.World.StateDigest(),
		Snapshot: r.World.Snapshot(),
	}
	for _, s := range sinks {
		if err := s.WriteTick(rec); err != nil {
			return rec, fmt.Errorf("day %d: sink: %w", rec.Day, err)
		}
	}
	r.World.Advance(r.rng)
	r.World.ProcessMessages(r.rng)
	return rec, nil
}

// Execute runs the remaining days of the horizon. Cancellation is observed
// between days.
func (r *Run) Execute(ctx context.Context, sinks ...Sink) (Result, error) {
	res := Result{RunID: r.ID, Scenario: r.Scenario, StartedAt: time.Now().UTC()}
	horizon := r.Scenario.Main.SimulationLength
	every := r.Scenario.Main.ProgressEveryDays

	r.log.Info("run start",
		zap.Int("horizon", horizon),
		zap.Int("population", r.Scenario.Main.Population),
		zap.Uint64("seed", r.Scenario.Main.Seed),
		zap.Bool("reman", r.Scenario.Main.EnableReman),
	)

	var ticker *time.Ticker
	if r.pace > 0 {
		ticker = time.NewTicker(r.pace)
		defer ticker.Stop()
	}

	for r.World.Now() < horizon {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, err := r.Step(sinks...)
		if err != nil {
			return res, err
		}
		if every > 0 && rec.Day%every == 0 {
			c := rec.Snapshot.Customers
			r.log.Debug("progress",
				zap.Int("day", rec.Day),
				zap.Int("potential", c.PotentialUsers),
				zap.Int("wants_any", c.WantsAny),
				zap.Float64("core_stock", rec.Snapshot.CoreStock),
			)
		}
	}

	res.Days = r.World.Now()
	res.Final = r.FinalSnapshot()
	res.Digest = r.World.StateDigest()
	res.Report = r.OEM.GenerateFinancialReport()
	res.FinishedAt = time.Now().UTC()

	r.log.Info("run done",
		zap.Int("days", res.Days),
		zap.Float64("profit", res.Report.Profit),
		zap.String("digest", res.Digest),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

// FinalSnapshot reports the state after the last processed day, with counts
// taken now rather than at the last Tick.
func (r *Run) FinalSnapshot() world.TickSnapshot {
	s := r.World.Snapshot()
	s.Customers = r.World.CountStates()
	return s
}
