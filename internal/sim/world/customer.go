package world

import (
	"math/rand/v2"

	"remansim/internal/sim/catalogs"
)

type CustomerState uint8

const (
	PotentialUser CustomerState = iota
	Wants
	Uses
	WantsAny
)

func (s CustomerState) String() string {
	switch s {
	case PotentialUser:
		return "potential_user"
	case Wants:
		return "wants"
	case Uses:
		return "uses"
	case WantsAny:
		return "wants_any"
	}
	return "unknown"
}

type CustomerConfig struct {
	Catalog *catalogs.Catalog

	// Patience is the number of days an unfulfilled want is tolerated before
	// the customer accepts any product.
	Patience int

	// ContactsPerDay is how many other customers a user recommends its product
	// to each day. Zero disables word of mouth.
	ContactsPerDay int
}

func (c CustomerConfig) Validate() error {
	if c.Catalog == nil {
		return configErr("catalog", "missing product catalog")
	}
	if c.Patience < 0 {
		return configErr("patience", "must be >= 0, got %d", c.Patience)
	}
	if c.ContactsPerDay < 0 {
		return configErr("contacts_per_day", "must be >= 0, got %d", c.ContactsPerDay)
	}
	for _, p := range catalogs.All {
		d := c.Catalog.Def(p)
		if d.LifespanMin < 1 || d.LifespanMax <= d.LifespanMin {
			return configErr("products."+p.String()+".lifespan", "need 1 <= min < max, got [%d,%d)", d.LifespanMin, d.LifespanMax)
		}
		if !(d.AdvertisingEffectiveness >= 0 && d.AdvertisingEffectiveness <= 1) {
			return configErr("products."+p.String()+".advertising_effectiveness", "must be within [0,1], got %v", d.AdvertisingEffectiveness)
		}
		if !(d.WordOfMouth >= 0 && d.WordOfMouth <= 1) {
			return configErr("products."+p.String()+".word_of_mouth", "must be within [0,1], got %v", d.WordOfMouth)
		}
	}
	return nil
}

// Customer is one member of the population. It moves between PotentialUser,
// Wants(p), Uses(p) and WantsAny once per day.
//
// While in Wants at most one of deliveryDay and endOfPatienceDay is set: an
// order in flight clears the patience timer and a stock-out never starts one
// while an order is pending.
type Customer struct {
	id    int
	index int // registration position among customers
	world *World
	oem   *OEM
	cfg   CustomerConfig

	state     CustomerState
	active    catalogs.Product
	hasActive bool

	deliveryDay      int
	endOfLifeDay     int
	endOfPatienceDay int
}

func NewCustomer(id int, w *World, oem *OEM, cfg CustomerConfig) (*Customer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if oem == nil {
		return nil, configErr("oem", "customer %d has no producer", id)
	}
	return &Customer{
		id:               id,
		index:            -1,
		world:            w,
		oem:              oem,
		cfg:              cfg,
		state:            PotentialUser,
		deliveryDay:      noDay,
		endOfLifeDay:     noDay,
		endOfPatienceDay: noDay,
	}, nil
}

func (c *Customer) ID() int         { return c.id }
func (c *Customer) Kind() AgentKind { return KindCustomer }
func (c *Customer) sealed()         {}

func (c *Customer) State() CustomerState { return c.state }

func (c *Customer) ActiveProduct() (catalogs.Product, bool) { return c.active, c.hasActive }

// DeliveryDay, EndOfLifeDay and EndOfPatienceDay report absolute days; ok is
// false while the timer is unset.
func (c *Customer) DeliveryDay() (day int, ok bool)      { return c.deliveryDay, c.deliveryDay != noDay }
func (c *Customer) EndOfLifeDay() (day int, ok bool)     { return c.endOfLifeDay, c.endOfLifeDay != noDay }
func (c *Customer) EndOfPatienceDay() (day int, ok bool) { return c.endOfPatienceDay, c.endOfPatienceDay != noDay }

func (c *Customer) Advance(rng *rand.Rand) {
	now := c.world.Now()
	switch c.state {
	case PotentialUser:
		// Shuffled per customer so no product is systematically considered first.
		for _, p := range c.shuffledProducts(rng) {
			if bernoulli(rng, c.cfg.Catalog.Def(p).AdvertisingEffectiveness) {
				c.tryAndBuy(rng, p)
				break
			}
		}

	case Wants:
		switch {
		case c.deliveryDay != noDay:
			if now == c.deliveryDay {
				c.becomeUser(rng, c.active)
			}
		case c.endOfPatienceDay != noDay && now >= c.endOfPatienceDay:
			c.state = WantsAny
			c.hasActive = false
			c.deliveryDay = noDay
			c.endOfPatienceDay = noDay
		default:
			c.tryAndBuy(rng, c.active)
		}

	case WantsAny:
		for _, p := range c.shuffledProducts(rng) {
			if c.oem.RequestProduct(p) {
				c.purchased(rng, p)
				return
			}
		}

	case Uses:
		if now == c.endOfLifeDay {
			c.state = Wants
			c.endOfLifeDay = noDay
			if c.world.RemanEnabled() {
				c.oem.ReturnProduct(rng)
			}
			return
		}
		c.spreadWordOfMouth(rng)
	}
}

// HandleMessage reacts to word of mouth: a potential user may be convinced to
// try the recommended product.
func (c *Customer) HandleMessage(msg Message, rng *rand.Rand) {
	if msg.Type != MessageBuy || c.state != PotentialUser || !c.world.IsActive(msg.Product) {
		return
	}
	if bernoulli(rng, c.cfg.Catalog.Def(msg.Product).WordOfMouth) {
		c.tryAndBuy(rng, msg.Product)
	}
}

func (c *Customer) shuffledProducts(rng *rand.Rand) []catalogs.Product {
	products := c.world.ActiveProducts()
	rng.Shuffle(len(products), func(i, j int) { products[i], products[j] = products[j], products[i] })
	return products
}

func (c *Customer) tryAndBuy(rng *rand.Rand, p catalogs.Product) {
	if c.oem.RequestProduct(p) {
		c.purchased(rng, p)
		return
	}
	c.state = Wants
	c.active = p
	c.hasActive = true
	if c.endOfPatienceDay == noDay {
		c.endOfPatienceDay = c.world.Now() + c.cfg.Patience
	}
}

// purchased handles a confirmed sale. Any successful purchase clears the
// patience timer.
func (c *Customer) purchased(rng *rand.Rand, p catalogs.Product) {
	delay := c.oem.DeliveryDelay()
	if delay == 0 {
		c.becomeUser(rng, p)
		return
	}
	c.state = Wants
	c.active = p
	c.hasActive = true
	c.deliveryDay = c.world.Now() + delay
	c.endOfPatienceDay = noDay
}

func (c *Customer) becomeUser(rng *rand.Rand, p catalogs.Product) {
	c.state = Uses
	c.active = p
	c.hasActive = true
	c.deliveryDay = noDay
	c.endOfPatienceDay = noDay

	def := c.cfg.Catalog.Def(p)
	lifespan := def.LifespanMin + rng.IntN(def.LifespanMax-def.LifespanMin)
	c.endOfLifeDay = c.world.Now() + lifespan
}

func (c *Customer) spreadWordOfMouth(rng *rand.Rand) {
	n := len(c.world.customers)
	if c.cfg.ContactsPerDay == 0 || n < 2 {
		return
	}
	for i := 0; i < c.cfg.ContactsPerDay; i++ {
		// Uniform over the other customers.
		j := rng.IntN(n - 1)
		if j >= c.index {
			j++
		}
		c.world.ReceiveMessage(Message{
			Sender:    c.id,
			Recipient: c.world.customers[j].id,
			Type:      MessageBuy,
			Product:   c.active,
		})
	}
}
