// Package engine executes workflow nodes. It owns the per-node status state
// machine, single-flight run guarantees, batch scheduling in dependency
// order, cancellation, and the bookkeeping that ties a settled run to the
// history store, the progress hub, and the session tracker.
//
// The engine is the only writer of node runtime state. UI surfaces read the
// stores; everything that mutates status, results, or progress goes through
// an engine operation or one of the graph hooks the engine registers.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/history"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/nodestate"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/resolver"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/session"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// ArtifactStore removes stored result files when the records pointing at
// them are deleted. Removal is best-effort; failures are logged, not raised.
type ArtifactStore interface {
	Remove(ctx context.Context, ref string) error
}

// defaultWorkers bounds logically concurrent node runs within one batch.
const defaultWorkers = 4

// Config wires an Engine to its collaborators. Graph, State, Progress,
// Sessions, History, and Capabilities are required; Models and Artifacts may
// be nil when the deployment has no manifest catalog or managed storage.
type Config struct {
	WorkflowID   string
	WorkflowName string
	Graph        *graphstore.Store
	State        *nodestate.Store
	Progress     *progress.Hub
	Sessions     *session.Tracker
	History      history.Store
	Capabilities *capability.Registry
	Models       modelschema.Source
	Artifacts    ArtifactStore
	Workers      int
}

// Engine runs nodes and keeps their runtime state consistent with the graph.
type Engine struct {
	workflowID   string
	workflowName string
	graph        *graphstore.Store
	state        *nodestate.Store
	resolver     *resolver.Resolver
	progress     *progress.Hub
	sessions     *session.Tracker
	history      history.Store
	caps         *capability.Registry
	models       modelschema.Source
	artifacts    ArtifactStore
	workers      int

	// Key: node id (string). Value: *run.
	running sync.Map
}

// run tracks one in-flight node execution.
type run struct {
	cancel context.CancelFunc
}

// New creates an engine and registers it on the graph store's hooks, so
// graph edits invalidate downstream results and node removal drops runtime
// state.
func New(cfg Config) *Engine {
	e := &Engine{
		workflowID:   cfg.WorkflowID,
		workflowName: cfg.WorkflowName,
		graph:        cfg.Graph,
		state:        cfg.State,
		resolver:     resolver.New(cfg.Graph, cfg.State),
		progress:     cfg.Progress,
		sessions:     cfg.Sessions,
		history:      cfg.History,
		caps:         cfg.Capabilities,
		models:       cfg.Models,
		artifacts:    cfg.Artifacts,
		workers:      cfg.Workers,
	}
	if e.workers <= 0 {
		e.workers = defaultWorkers
	}
	cfg.Graph.OnNodeChanged(e.invalidateFrom)
	cfg.Graph.OnNodeRemoved(e.forget)
	return e
}

// invalidateFrom marks the changed node and every node reachable downstream
// of it as unconfirmed, where they currently hold a result. Running nodes
// are left alone; their in-flight settlement decides their next status.
func (e *Engine) invalidateFrom(nodeID string) {
	e.markUnconfirmed(e.graph.Snapshot().Downstream(nodeID))
}

// invalidateBelow marks every result-holding node strictly downstream of a
// freshly completed node as unconfirmed. The completed node itself keeps its
// new confirmed result.
func (e *Engine) invalidateBelow(nodeID string) {
	e.markUnconfirmed(e.graph.Snapshot().Descendants(nodeID))
}

func (e *Engine) markUnconfirmed(ids map[string]struct{}) {
	for id := range ids {
		if e.state.Status(id).HasResult() {
			e.state.SetStatus(id, workflow.StatusUnconfirmed)
		}
	}
}

// forget aborts a removed node's in-flight run and drops its runtime state.
func (e *Engine) forget(nodeID string) {
	if v, ok := e.running.Load(nodeID); ok {
		v.(*run).cancel()
	}
	e.state.Clear(nodeID)
	e.progress.Drop(nodeID)
}

// BindModel rebinds a node to a model from the catalog. The node adopts the
// model's param and input schemas, params for vanished keys are dropped,
// edges into vanished handles are pruned, and the node returns to idle with
// its cached result cleared.
func (e *Engine) BindModel(ctx context.Context, nodeID, modelID string) error {
	if e.models == nil {
		return fmt.Errorf("bind model '%s': no model catalog configured", modelID)
	}
	def, err := e.models.Definition(modelID)
	if err != nil {
		return err
	}
	if v, ok := e.running.Load(nodeID); ok {
		v.(*run).cancel()
	}
	if err := e.graph.ReplaceSchema(nodeID, modelID, def.Params, def.Inputs); err != nil {
		return err
	}
	e.state.Clear(nodeID)
	e.progress.Drop(nodeID)
	return nil
}

// endpointFor resolves the API endpoint for a node's bound model, when a
// catalog is configured and knows the model.
func (e *Engine) endpointFor(n *workflow.Node) string {
	if e.models == nil || n.ModelID == "" {
		return ""
	}
	def, err := e.models.Definition(n.ModelID)
	if err != nil {
		return ""
	}
	return def.Endpoint
}
