// Package modelschema loads and serves AI model manifests: the parameter and
// input schemas, API endpoints, and per-run prices that model nodes bind to.
package modelschema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// ErrModelNotFound is returned when a model id is not in the catalog.
var ErrModelNotFound = errors.New("model not found")

// Definition is one model's manifest entry.
type Definition struct {
	// ID is the provider-scoped model identifier, e.g. "wavespeed/flux-dev".
	ID string
	// Endpoint is the API path requests for this model are submitted to.
	Endpoint string
	// Description is display text for the model picker.
	Description string
	// CostPerRun is the flat price of one run, in account credits.
	CostPerRun float64
	// Params is the parameter schema a bound node adopts.
	Params []workflow.ParamDefinition
	// Inputs is the input-port schema a bound node adopts.
	Inputs []workflow.PortDefinition
}

func (d *Definition) clone() *Definition {
	c := *d
	c.Params = append([]workflow.ParamDefinition(nil), d.Params...)
	c.Inputs = append([]workflow.PortDefinition(nil), d.Inputs...)
	return &c
}

// Source serves model definitions to the engine and cost estimator.
type Source interface {
	// Definition returns one model's manifest entry.
	Definition(id string) (*Definition, error)
	// IDs lists all known model ids, sorted.
	IDs() []string
}

// Catalog is the in-memory Source populated from manifest files.
type Catalog struct {
	defs map[string]*Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]*Definition)}
}

// Add inserts a definition. Duplicate ids are a manifest bug.
func (c *Catalog) Add(def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("add model: missing id")
	}
	if _, exists := c.defs[def.ID]; exists {
		return fmt.Errorf("model '%s' defined twice", def.ID)
	}
	c.defs[def.ID] = def.clone()
	return nil
}

// Definition returns a copy of one model's manifest entry.
func (c *Catalog) Definition(id string) (*Definition, error) {
	def, ok := c.defs[id]
	if !ok {
		return nil, fmt.Errorf("model '%s': %w", id, ErrModelNotFound)
	}
	return def.clone(), nil
}

// IDs lists all known model ids, sorted.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.defs))
	for id := range c.defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of models in the catalog.
func (c *Catalog) Len() int {
	return len(c.defs)
}

var _ Source = (*Catalog)(nil)
