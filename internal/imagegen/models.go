package imagegen

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Model is one entry of the generation catalog. Version is the backend
// reference, either "owner/name" or "owner/name:version".
type Model struct {
	Name        string          `json:"name" yaml:"name"`
	Version     string          `json:"-" yaml:"version"`
	Description string          `json:"description" yaml:"description"`
	PriceUSD    decimal.Decimal `json:"cost_usd" yaml:"price_usd"`
}

var defaultPrice = decimal.RequireFromString("0.04")

// DefaultModels is the catalog used when none is configured.
func DefaultModels() []Model {
	return []Model{
		{
			Name:        "seedream-4.5",
			Version:     "bytedance/seedream-4.5",
			Description: "Seedream 4.5 - Cinematic quality, 4K support, strong spatial reasoning",
			PriceUSD:    defaultPrice,
		},
		{
			Name:        "stable-diffusion",
			Version:     "stability-ai/stable-diffusion:ac732df83cea7fff18b8472768c88ad041fa750ff7682a21affe81863cbe77e4",
			Description: "Stable Diffusion v1.5",
			PriceUSD:    defaultPrice,
		},
		{
			Name:        "nano-banana",
			Version:     "google/nano-banana-pro",
			Description: "Google Nano Banana Pro",
			PriceUSD:    defaultPrice,
		},
	}
}

type Catalog struct {
	models []Model
	byName map[string]int
}

// NewCatalog validates models. The first model is the default.
func NewCatalog(models []Model) (*Catalog, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog: no models")
	}

	c := &Catalog{byName: make(map[string]int, len(models))}
	for _, m := range models {
		if m.Name == "" || m.Version == "" {
			return nil, fmt.Errorf("catalog: model %q: name and version required", m.Name)
		}
		if m.PriceUSD.IsNegative() {
			return nil, fmt.Errorf("catalog: model %q: negative price", m.Name)
		}
		if _, ok := c.byName[m.Name]; ok {
			return nil, fmt.Errorf("catalog: duplicate model %q", m.Name)
		}
		c.byName[m.Name] = len(c.models)
		c.models = append(c.models, m)
	}

	return c, nil
}

// WithPrices returns a copy of c with base prices overridden by name.
func (c *Catalog) WithPrices(prices map[string]decimal.Decimal) (*Catalog, error) {
	models := c.List()
	for name, price := range prices {
		i, ok := c.byName[name]
		if !ok {
			return nil, fmt.Errorf("catalog: price for unknown model %q", name)
		}
		models[i].PriceUSD = price
	}
	return NewCatalog(models)
}

// Get returns the named model. An empty name selects the default.
func (c *Catalog) Get(name string) (Model, error) {
	if name == "" {
		return c.Default(), nil
	}
	i, ok := c.byName[name]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return c.models[i], nil
}

func (c *Catalog) Default() Model {
	return c.models[0]
}

func (c *Catalog) List() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}
