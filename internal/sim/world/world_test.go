package world

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"remansim/internal/sim/catalogs"
)

func TestWorld_TickIncrementsByOne(t *testing.T) {
	w := New(Options{})
	if w.Now() != 0 {
		t.Fatalf("initial day: got %d want 0", w.Now())
	}
	for i := 1; i <= 50; i++ {
		w.Tick()
		if w.Now() != i {
			t.Fatalf("tick %d: now=%d", i, w.Now())
		}
	}
}

func TestWorld_ActiveProducts(t *testing.T) {
	w := New(Options{})
	if diff := cmp.Diff([]catalogs.Product{catalogs.Virgin}, w.ActiveProducts()); diff != "" {
		t.Fatalf("no reman (-want +got):\n%s", diff)
	}
	w = New(Options{RemanEnabled: true})
	got := w.ActiveProducts()
	if diff := cmp.Diff([]catalogs.Product{catalogs.Virgin, catalogs.Reman}, got); diff != "" {
		t.Fatalf("reman (-want +got):\n%s", diff)
	}
	got[0], got[1] = got[1], got[0]
	if w.ActiveProducts()[0] != catalogs.Virgin {
		t.Fatalf("caller mutation leaked into world")
	}
}

func TestWorld_AddAgentDuplicateID(t *testing.T) {
	w := New(Options{})
	oem, err := NewOEM(-1, w, testOEMConfig())
	if err != nil {
		t.Fatalf("NewOEM: %v", err)
	}
	if err := w.AddAgent(oem); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	c, _ := NewCustomer(-1, w, oem, CustomerConfig{Catalog: testCatalog(t, 0, 0)})
	err = w.AddAgent(c)
	var dup *DuplicateIDError
	if !errors.As(err, &dup) || dup.ID != -1 {
		t.Fatalf("expected DuplicateIDError{-1}, got %v", err)
	}
	if len(w.AgentIDs()) != 1 || len(w.Customers()) != 0 {
		t.Fatalf("rejected agent must not be registered")
	}
}

func TestWorld_AgentIDsKeepRegistrationOrder(t *testing.T) {
	f := newFixture(t, false, 3, testOEMConfig(), CustomerConfig{Catalog: testCatalog(t, 0, 0)})
	if diff := cmp.Diff([]int{-1, 0, 1, 2}, f.w.AgentIDs()); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
	if a, ok := f.w.Agent(1); !ok || a.Kind() != KindCustomer {
		t.Fatalf("lookup customer 1: %v %v", a, ok)
	}
	if f.w.OEM() != f.oem {
		t.Fatalf("OEM lookup mismatch")
	}
}

// recordingAgent logs deliveries and optionally forwards each one.
type recordingAgent struct {
	*Customer
	w       *World
	got     []Message
	forward int
}

func (r *recordingAgent) HandleMessage(msg Message, _ *rand.Rand) {
	r.got = append(r.got, msg)
	if r.forward != 0 {
		r.w.ReceiveMessage(Message{Sender: r.ID(), Recipient: r.forward, Type: MessageBuy, Product: msg.Product})
	}
}

func newRecorder(t *testing.T, f *fixture, id, forward int) *recordingAgent {
	t.Helper()
	c, err := NewCustomer(id, f.w, f.oem, CustomerConfig{Catalog: testCatalog(t, 0, 0)})
	if err != nil {
		t.Fatalf("NewCustomer: %v", err)
	}
	r := &recordingAgent{Customer: c, w: f.w, forward: forward}
	if err := f.w.AddAgent(r); err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	return r
}

func TestWorld_ProcessMessagesFIFO(t *testing.T) {
	f := newFixture(t, false, 0, testOEMConfig(), CustomerConfig{})
	a := newRecorder(t, f, 10, 0)
	b := newRecorder(t, f, 11, 0)

	sent := []Message{
		{Sender: 11, Recipient: 10, Type: MessageBuy, Product: catalogs.Virgin},
		{Sender: 10, Recipient: 99, Type: MessageBuy, Product: catalogs.Virgin},
		{Sender: 11, Recipient: 10, Type: MessageBuy, Product: catalogs.Reman},
		{Sender: 10, Recipient: 11, Type: MessageBuy, Product: catalogs.Virgin},
	}
	for _, m := range sent {
		f.w.ReceiveMessage(m)
	}
	f.w.ProcessMessages(f.rng)

	if diff := cmp.Diff([]Message{sent[0], sent[2]}, a.got); diff != "" {
		t.Fatalf("agent 10 deliveries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Message{sent[3]}, b.got); diff != "" {
		t.Fatalf("agent 11 deliveries (-want +got):\n%s", diff)
	}
	if f.w.PendingMessages() != 0 {
		t.Fatalf("queue must drain, %d left", f.w.PendingMessages())
	}
}

func TestWorld_MessagesSentDuringDeliveryWaitForNextCall(t *testing.T) {
	f := newFixture(t, false, 0, testOEMConfig(), CustomerConfig{})
	a := newRecorder(t, f, 10, 11)
	b := newRecorder(t, f, 11, 0)

	f.w.ReceiveMessage(Message{Sender: 11, Recipient: 10, Type: MessageBuy, Product: catalogs.Virgin})
	f.w.ProcessMessages(f.rng)
	if len(a.got) != 1 || len(b.got) != 0 {
		t.Fatalf("first pass: a=%d b=%d", len(a.got), len(b.got))
	}
	if f.w.PendingMessages() != 1 {
		t.Fatalf("forwarded message must stay queued, pending=%d", f.w.PendingMessages())
	}
	f.w.ProcessMessages(f.rng)
	if len(b.got) != 1 {
		t.Fatalf("second pass must deliver the forwarded message")
	}
}

func TestWorld_CountsPartitionPopulation(t *testing.T) {
	ocfg := testOEMConfig()
	ocfg.DeliveryDelay = 1
	f := newFixture(t, true, 150, ocfg, CustomerConfig{Catalog: testCatalog(t, 0.04, 0.01), Patience: 4, ContactsPerDay: 3})
	f.rng = rand.New(rand.NewPCG(3, 9))
	for day := 0; day < 300; day++ {
		f.day()
		if got := f.w.Counts().Total(); got != 150 {
			t.Fatalf("day %d: counts total %d want 150", f.w.Now(), got)
		}
		if got := f.w.CountStates().Total(); got != 150 {
			t.Fatalf("day %d: live total %d want 150", f.w.Now(), got)
		}
		o := f.w.OEM()
		for _, p := range catalogs.All {
			if o.FactoryStock(p) < 0 {
				t.Fatalf("day %d: negative %s stock", f.w.Now(), p)
			}
		}
		if o.CoreStock() < 0 {
			t.Fatalf("day %d: negative core stock", f.w.Now())
		}
		if o.CoresRejected() > o.CoresCollected() {
			t.Fatalf("day %d: rejected > collected", f.w.Now())
		}
	}
}

func TestWorld_SnapshotUsesTickCounts(t *testing.T) {
	ocfg := testOEMConfig()
	ocfg.InitialStock[catalogs.Virgin] = 1
	f := newFixture(t, false, 1, ocfg, CustomerConfig{Catalog: testCatalog(t, 1.0, 0), Patience: 10})
	f.day()

	s := f.w.Snapshot()
	if s.Day != 1 || s.Customers.PotentialUsers != 1 {
		t.Fatalf("snapshot counts must describe the start of day 1: %+v", s.Customers)
	}
	if s.ProductsSold[catalogs.Virgin] != 1 || s.FactoryStock[catalogs.Virgin] != 0 {
		t.Fatalf("snapshot OEM fields: %+v", s)
	}
	live := f.w.CountStates()
	if live.Uses[catalogs.Virgin] != 1 {
		t.Fatalf("live count: %+v", live)
	}
}
