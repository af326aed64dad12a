package world

import (
	"math/rand/v2"
	"slices"

	"remansim/internal/sim/catalogs"
)

type Options struct {
	// RemanEnabled makes Reman an active product for the run. Virgin is
	// always active.
	RemanEnabled bool
}

// World owns the clock, the agent registry, the active-product set and the
// per-day aggregate customer counts. It is single-threaded: every method must
// be called from the goroutine driving the run.
type World struct {
	now    int
	active []catalogs.Product
	reman  bool

	agents    map[int]Agent
	order     []int
	producers []*OEM
	customers []*Customer

	counts StateCounts
	inbox  []Message
}

func New(opts Options) *World {
	w := &World{
		active: []catalogs.Product{catalogs.Virgin},
		reman:  opts.RemanEnabled,
		agents: map[int]Agent{},
	}
	if opts.RemanEnabled {
		w.active = append(w.active, catalogs.Reman)
	}
	return w
}

func (w *World) Now() int { return w.now }

// Tick advances the clock by one day and recounts customer states. The counts
// therefore describe the end of the previous day, which is what the
// production model reads during the upcoming Advance.
func (w *World) Tick() {
	w.now++
	w.counts = w.CountStates()
}

// ActiveProducts returns a copy callers may reorder freely.
func (w *World) ActiveProducts() []catalogs.Product { return slices.Clone(w.active) }

func (w *World) IsActive(p catalogs.Product) bool { return slices.Contains(w.active, p) }

func (w *World) RemanEnabled() bool { return w.reman }

func (w *World) AddAgent(a Agent) error {
	if _, ok := w.agents[a.ID()]; ok {
		return &DuplicateIDError{ID: a.ID()}
	}
	w.agents[a.ID()] = a
	w.order = append(w.order, a.ID())
	switch v := a.(type) {
	case *OEM:
		w.producers = append(w.producers, v)
	case *Customer:
		v.index = len(w.customers)
		w.customers = append(w.customers, v)
	}
	return nil
}

func (w *World) Agent(id int) (Agent, bool) {
	a, ok := w.agents[id]
	return a, ok
}

// AgentIDs returns ids in registration order.
func (w *World) AgentIDs() []int { return slices.Clone(w.order) }

func (w *World) Customers() []*Customer { return slices.Clone(w.customers) }

// OEM returns the first registered producer, or nil.
func (w *World) OEM() *OEM {
	if len(w.producers) == 0 {
		return nil
	}
	return w.producers[0]
}

// Advance runs one day of agent updates: producers first, then customers in
// registration order. Earlier customers get first claim on scarce stock.
func (w *World) Advance(rng *rand.Rand) {
	for _, o := range w.producers {
		o.Advance(rng)
	}
	for _, c := range w.customers {
		c.Advance(rng)
	}
}

// ReceiveMessage queues msg for delivery by the next ProcessMessages.
func (w *World) ReceiveMessage(msg Message) {
	w.inbox = append(w.inbox, msg)
}

func (w *World) PendingMessages() int { return len(w.inbox) }

// ProcessMessages delivers queued messages in arrival order. Messages sent
// while delivering are kept for the next call. Unknown recipients are dropped.
func (w *World) ProcessMessages(rng *rand.Rand) {
	queue := w.inbox
	w.inbox = nil
	for _, msg := range queue {
		if a, ok := w.agents[msg.Recipient]; ok {
			a.HandleMessage(msg, rng)
		}
	}
}

// StateCounts is the aggregate customer state tally.
type StateCounts struct {
	PotentialUsers int                      `json:"potential_users"`
	Wants          catalogs.PerProduct[int] `json:"wants"`
	Uses           catalogs.PerProduct[int] `json:"uses"`
	WantsAny       int                      `json:"wants_any"`
}

func (s StateCounts) Total() int {
	n := s.PotentialUsers + s.WantsAny
	for _, p := range catalogs.All {
		n += s.Wants[p] + s.Uses[p]
	}
	return n
}

// Counts returns the tally captured by the last Tick.
func (w *World) Counts() StateCounts { return w.counts }

// CountStates tallies the current customer states without storing them.
func (w *World) CountStates() StateCounts {
	var s StateCounts
	for _, c := range w.customers {
		switch c.state {
		case PotentialUser:
			s.PotentialUsers++
		case Wants:
			s.Wants[c.active]++
		case Uses:
			s.Uses[c.active]++
		case WantsAny:
			s.WantsAny++
		}
	}
	return s
}
