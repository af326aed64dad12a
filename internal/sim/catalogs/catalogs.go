package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Product is a closed product kind. Values are immutable and compared by value,
// so a Product can be used directly as an index or map key.
type Product uint8

const (
	Virgin Product = iota
	Reman
)

const NumProducts = 2

// All lists every product kind in canonical order.
var All = [NumProducts]Product{Virgin, Reman}

var productNames = [NumProducts]string{"virgin", "reman"}

func (p Product) Valid() bool { return int(p) < NumProducts }

func (p Product) String() string {
	if !p.Valid() {
		return fmt.Sprintf("product(%d)", uint8(p))
	}
	return productNames[p]
}

func (p Product) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid product %d", uint8(p))
	}
	return []byte(productNames[p]), nil
}

func (p *Product) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Parse accepts the canonical names plus the single-letter aliases used in
// scenario files ("V", "R").
func Parse(s string) (Product, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "virgin", "v":
		return Virgin, nil
	case "reman", "r":
		return Reman, nil
	}
	return 0, fmt.Errorf("unknown product %q", s)
}

// PerProduct holds one value per product kind, indexed by Product.
// It marshals to a JSON object keyed by product name.
type PerProduct[T any] [NumProducts]T

func (pp PerProduct[T]) MarshalJSON() ([]byte, error) {
	m := make(map[string]T, NumProducts)
	for _, p := range All {
		m[productNames[p]] = pp[p]
	}
	return json.Marshal(m)
}

func (pp *PerProduct[T]) UnmarshalJSON(b []byte) error {
	var m map[string]T
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out PerProduct[T]
	for k, v := range m {
		p, err := Parse(k)
		if err != nil {
			return err
		}
		out[p] = v
	}
	*pp = out
	return nil
}

// ProductDef carries the customer-facing behavior parameters of a product.
type ProductDef struct {
	Product Product `json:"product"`

	// Lifespan is drawn uniformly from [LifespanMin, LifespanMax) days.
	LifespanMin int `json:"lifespan_min"`
	LifespanMax int `json:"lifespan_max"`

	AdvertisingEffectiveness float64 `json:"advertising_effectiveness"`
	WordOfMouth              float64 `json:"word_of_mouth"`
}

type Catalog struct {
	Defs   PerProduct[ProductDef]
	Digest string
}

// New builds a catalog from one definition per product. Missing products are an
// error; range checks live with the agents that consume the definitions.
func New(defs []ProductDef) (*Catalog, error) {
	var c Catalog
	var seen [NumProducts]bool
	for _, d := range defs {
		if !d.Product.Valid() {
			return nil, fmt.Errorf("catalog: invalid product %d", uint8(d.Product))
		}
		if seen[d.Product] {
			return nil, fmt.Errorf("catalog: duplicate product %s", d.Product)
		}
		seen[d.Product] = true
		c.Defs[d.Product] = d
	}
	for _, p := range All {
		if !seen[p] {
			return nil, fmt.Errorf("catalog: missing product %s", p)
		}
	}

	b, err := json.Marshal(c.Defs)
	if err != nil {
		return nil, err
	}
	c.Digest = sha256Hex(b)
	return &c, nil
}

func (c *Catalog) Def(p Product) ProductDef { return c.Defs[p] }

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
