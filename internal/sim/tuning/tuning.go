package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"remansim/internal/sim/catalogs"
	"remansim/internal/sim/world"
)

//go:embed scenario.schema.json
var schemaJSON []byte

const schemaURL = "scenario.schema.json"

// Scenario is one complete, immutable run configuration.
type Scenario struct {
	Name        string   `yaml:"-" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Main        Main     `yaml:"main" json:"main"`
	OEM         OEM      `yaml:"oem" json:"oem"`
	Customer    Customer `yaml:"customer" json:"customer"`
	Products    Products `yaml:"products" json:"products"`
}

type Main struct {
	SimulationLength  int    `yaml:"simulation_length" json:"simulation_length"`
	Population        int    `yaml:"population" json:"population"`
	Seed              uint64 `yaml:"seed" json:"seed"`
	EnableReman       bool   `yaml:"enable_reman" json:"enable_reman"`
	ProgressEveryDays int    `yaml:"progress_every_days" json:"progress_every_days"`
}

type OEM struct {
	ManufactureDelay   float64 `yaml:"manufacture_delay" json:"manufacture_delay"`
	RemanufactureDelay float64 `yaml:"remanufacture_delay" json:"remanufacture_delay"`
	DeliveryDelay      int     `yaml:"delivery_delay" json:"delivery_delay"`

	VirginStock float64 `yaml:"virgin_stock" json:"virgin_stock"`
	RemanStock  float64 `yaml:"reman_stock" json:"reman_stock"`
	CoreStock   float64 `yaml:"core_stock" json:"core_stock"`

	UnitProductionCostV float64 `yaml:"unit_production_cost_V" json:"unit_production_cost_V"`
	UnitProductionCostR float64 `yaml:"unit_production_cost_R" json:"unit_production_cost_R"`
	RetailPriceV        float64 `yaml:"retail_price_V" json:"retail_price_V"`
	RetailPriceR        float64 `yaml:"retail_price_R" json:"retail_price_R"`

	CoreAcceptanceRate float64 `yaml:"core_acceptance_rate" json:"core_acceptance_rate"`
	CoreCollectionCost float64 `yaml:"core_collection_cost" json:"core_collection_cost"`
	CoreDisposalCost   float64 `yaml:"core_disposal_cost" json:"core_disposal_cost"`
}

type Customer struct {
	Patience       int `yaml:"patience" json:"patience"`
	ContactsPerDay int `yaml:"contacts_per_day" json:"contacts_per_day"`
}

type Products struct {
	Virgin Product `yaml:"virgin" json:"virgin"`
	Reman  Product `yaml:"reman" json:"reman"`
}

type Product struct {
	// Lifespan is the half-open [min, max) range in days.
	Lifespan                 [2]int  `yaml:"lifespan" json:"lifespan"`
	AdvertisingEffectiveness float64 `yaml:"advertising_effectiveness" json:"advertising_effectiveness"`
	WordOfMouth              float64 `yaml:"word_of_mouth" json:"word_of_mouth"`
}

// Set is a collection of named scenarios.
type Set map[string]Scenario

func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s Set) Get(name string) (Scenario, error) {
	sc, ok := s[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q (have %s)", name, strings.Join(s.Names(), ", "))
	}
	return sc, nil
}

const (
	DefaultName        = "Default"
	DefaultNoRemanName = "Default_no_reman"
)

// Default is the reference scenario with remanufacturing enabled.
func Default() Scenario {
	p := Product{Lifespan: [2]int{17, 24}, AdvertisingEffectiveness: 0.011, WordOfMouth: 0.015}
	return Scenario{
		Name:        DefaultName,
		Description: "virgin and remanufactured products",
		Main: Main{
			SimulationLength:  1200,
			Population:        100,
			Seed:              1,
			EnableReman:       true,
			ProgressEveryDays: 100,
		},
		OEM: OEM{
			ManufactureDelay:    5,
			RemanufactureDelay:  3,
			DeliveryDelay:       2,
			VirginStock:         10,
			UnitProductionCostV: 1000,
			UnitProductionCostR: 200,
			RetailPriceV:        1500,
			RetailPriceR:        900,
			CoreAcceptanceRate:  0.7,
			CoreCollectionCost:  50,
			CoreDisposalCost:    20,
		},
		Customer: Customer{Patience: 10, ContactsPerDay: 5},
		Products: Products{Virgin: p, Reman: p},
	}
}

// Defaults returns the built-in scenarios.
func Defaults() Set {
	noReman := Default()
	noReman.Name = DefaultNoRemanName
	noReman.Description = "virgin products only"
	noReman.Main.EnableReman = false
	return Set{DefaultName: Default(), DefaultNoRemanName: noReman}
}

type file struct {
	Scenarios map[string]yaml.Node `yaml:"scenarios"`
}

// Load returns the built-in scenarios overlaid with those defined in path.
// Every scenario in the file starts from Default, so a file only needs to name
// the parameters it changes. An empty path returns the built-ins.
func Load(path string) (Set, error) {
	set := Defaults()
	if strings.TrimSpace(path) == "" {
		return set, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	loaded, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, sc := range loaded {
		set[name] = sc
	}
	return set, nil
}

// Parse validates a scenario document against the embedded schema, decodes
// each scenario onto Default and checks the result.
func Parse(raw []byte) (Set, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("scenarios: %w", err)
	}
	set := Set{}
	for name, node := range f.Scenarios {
		sc := Default()
		sc.Description = ""
		if err := node.Decode(&sc); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		sc.Name = name
		sc.Normalize()
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		set[name] = sc
	}
	return set, nil
}

var schema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("scenarios: %w", err)
	}
	// Round-trip through JSON so the validator sees plain JSON values.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("scenarios: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("scenarios: %w", err)
	}
	s, err := schema()
	if err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("scenarios: %w", err)
	}
	return nil
}

func (s *Scenario) Normalize() {
	s.Description = strings.TrimSpace(s.Description)
	if s.Main.ProgressEveryDays <= 0 {
		s.Main.ProgressEveryDays = 100
	}
}

// Validate checks the scenario the same way agent construction will, and
// reports fields by their scenario path.
func (s Scenario) Validate() error {
	if s.Main.SimulationLength < 1 {
		return &world.ConfigError{Field: "main.simulation_length", Reason: fmt.Sprintf("must be >= 1, got %d", s.Main.SimulationLength)}
	}
	if s.Main.Population < 0 {
		return &world.ConfigError{Field: "main.population", Reason: fmt.Sprintf("must be >= 0, got %d", s.Main.Population)}
	}
	if err := s.OEMConfig().Validate(); err != nil {
		return prefixField("oem.", err)
	}
	cat, err := s.Catalog()
	if err != nil {
		return err
	}
	if err := s.CustomerConfig(cat).Validate(); err != nil {
		return prefixField("customer.", err)
	}
	return nil
}

func prefixField(prefix string, err error) error {
	var ce *world.ConfigError
	if errors.As(err, &ce) && !strings.HasPrefix(ce.Field, "products.") {
		return &world.ConfigError{Field: prefix + ce.Field, Reason: ce.Reason}
	}
	return err
}

func (s Scenario) OEMConfig() world.OEMConfig {
	o := s.OEM
	return world.OEMConfig{
		InitialStock:       catalogs.PerProduct[float64]{o.VirginStock, o.RemanStock},
		InitialCoreStock:   o.CoreStock,
		UnitProductionCost: catalogs.PerProduct[float64]{o.UnitProductionCostV, o.UnitProductionCostR},
		RetailPrice:        catalogs.PerProduct[float64]{o.RetailPriceV, o.RetailPriceR},
		DeliveryDelay:      o.DeliveryDelay,
		ManufactureDelay:   o.ManufactureDelay,
		RemanufactureDelay: o.RemanufactureDelay,
		CoreAcceptanceRate: o.CoreAcceptanceRate,
		CoreCollectionCost: o.CoreCollectionCost,
		CoreDisposalCost:   o.CoreDisposalCost,
	}
}

func (s Scenario) Catalog() (*catalogs.Catalog, error) {
	def := func(p catalogs.Product, v Product) catalogs.ProductDef {
		return catalogs.ProductDef{
			Product:                  p,
			LifespanMin:              v.Lifespan[0],
			LifespanMax:              v.Lifespan[1],
			AdvertisingEffectiveness: v.AdvertisingEffectiveness,
			WordOfMouth:              v.WordOfMouth,
		}
	}
	return catalogs.New([]catalogs.ProductDef{
		def(catalogs.Virgin, s.Products.Virgin),
		def(catalogs.Reman, s.Products.Reman),
	})
}

func (s Scenario) CustomerConfig(cat *catalogs.Catalog) world.CustomerConfig {
	return world.CustomerConfig{
		Catalog:        cat,
		Patience:       s.Customer.Patience,
		ContactsPerDay: s.Customer.ContactsPerDay,
	}
}
