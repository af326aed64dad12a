package world

import (
	"math/rand/v2"

	"remansim/internal/sim/catalogs"
)

// noDay marks an unset absolute day (delivery, end of life, end of patience).
const noDay = -1

type AgentKind uint8

const (
	KindOEM AgentKind = iota + 1
	KindCustomer
)

func (k AgentKind) String() string {
	switch k {
	case KindOEM:
		return "oem"
	case KindCustomer:
		return "customer"
	}
	return "unknown"
}

// Agent is the capability shared by every participant of a World.
// The set of implementations is closed: *OEM and *Customer.
type Agent interface {
	ID() int
	Kind() AgentKind
	// Advance runs the agent's update for the current day.
	Advance(rng *rand.Rand)
	HandleMessage(msg Message, rng *rand.Rand)

	sealed()
}

type MessageType uint8

const (
	// MessageBuy is word-of-mouth: the sender recommends buying Product.
	MessageBuy MessageType = iota + 1
)

func (t MessageType) String() string {
	if t == MessageBuy {
		return "buy"
	}
	return "unknown"
}

type Message struct {
	Sender    int
	Recipient int
	Type      MessageType
	Product   catalogs.Product
}

// bernoulli draws a single trial with success probability p.
func bernoulli(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}
