// Package costs prices planned runs from model manifest cost tables. The
// figures are display-only; execution never consults them.
package costs

import (
	"fmt"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
)

// Estimator sums per-run prices over graph nodes.
type Estimator struct {
	graph  *graphstore.Store
	models modelschema.Source
}

// New creates an estimator over the given graph and manifest source.
func New(graph *graphstore.Store, models modelschema.Source) *Estimator {
	return &Estimator{graph: graph, models: models}
}

// Estimate totals the per-run price of the given nodes; nil means the whole
// graph. Nodes without a bound model, with an unknown model, or missing from
// the graph price at zero, so the figure is always available for display.
func (e *Estimator) Estimate(nodeIDs []string) float64 {
	if nodeIDs == nil {
		for _, n := range e.graph.Nodes() {
			nodeIDs = append(nodeIDs, n.ID)
		}
	}
	var total float64
	for _, id := range nodeIDs {
		total += e.nodePrice(id)
	}
	return total
}

// EstimateFrom totals the price of one node and its downstream closure, the
// set a partial run would execute.
func (e *Estimator) EstimateFrom(nodeID string) (float64, error) {
	snap := e.graph.Snapshot()
	if !snap.Has(nodeID) {
		return 0, fmt.Errorf("estimate from '%s': %w", nodeID, graphstore.ErrNodeNotFound)
	}
	closure := snap.Downstream(nodeID)
	ids := make([]string, 0, len(closure))
	for id := range closure {
		ids = append(ids, id)
	}
	return e.Estimate(ids), nil
}

func (e *Estimator) nodePrice(id string) float64 {
	n, ok := e.graph.Node(id)
	if !ok || n.ModelID == "" || e.models == nil {
		return 0
	}
	def, err := e.models.Definition(n.ModelID)
	if err != nil {
		return 0
	}
	return def.CostPerRun
}
