// Package graphstore provides a thread-safe, in-memory store for the
// workflow graph: nodes, edges, and the structural mutations everything else
// builds on. It owns graph shape only; runtime state (status, results,
// progress) lives elsewhere and is kept consistent through the store's
// change and removal hooks.
package graphstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

var (
	// ErrNodeNotFound is returned when an operation names an unknown node id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEdgeNotFound is returned when an operation names an unknown edge id.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrSelfEdge is returned when an edge's source and target are the same node.
	ErrSelfEdge = errors.New("self-referential edge")
	// ErrDuplicateNode is returned when adding a node whose id is already present.
	ErrDuplicateNode = errors.New("node id already present")
)

// ChangeHook observes semantic changes to a node: a non-internal param edit,
// an edge connected or disconnected at one of its handles, or a model
// rebind. Hooks run outside the store lock and may call back into the store.
type ChangeHook func(nodeID string)

// RemoveHook observes node removal so per-node runtime state can be dropped.
type RemoveHook func(nodeID string)

// Store holds the workflow graph. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	nodes    map[string]*workflow.Node
	edges    map[string]*workflow.Edge
	byTarget map[string]map[string]string // target node id -> target handle -> edge id

	changeHooks []ChangeHook
	removeHooks []RemoveHook
}

// New creates an empty graph store.
func New() *Store {
	return &Store{
		nodes:    make(map[string]*workflow.Node),
		edges:    make(map[string]*workflow.Edge),
		byTarget: make(map[string]map[string]string),
	}
}

// OnNodeChanged registers a hook invoked after a semantic change to a node.
func (s *Store) OnNodeChanged(h ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changeHooks = append(s.changeHooks, h)
}

// OnNodeRemoved registers a hook invoked after a node is removed.
func (s *Store) OnNodeRemoved(h RemoveHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeHooks = append(s.removeHooks, h)
}

func (s *Store) notifyChanged(nodeIDs ...string) {
	s.mu.RLock()
	hooks := append([]ChangeHook(nil), s.changeHooks...)
	s.mu.RUnlock()
	for _, id := range nodeIDs {
		for _, h := range hooks {
			h(id)
		}
	}
}

func (s *Store) notifyRemoved(nodeID string) {
	s.mu.RLock()
	hooks := append([]RemoveHook(nil), s.removeHooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(nodeID)
	}
}

// AddNode inserts a copy of the given node. The node must carry a unique id.
func (s *Store) AddNode(n *workflow.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("add node: missing node id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[n.ID]; exists {
		return fmt.Errorf("add node '%s': %w", n.ID, ErrDuplicateNode)
	}
	s.nodes[n.ID] = n.Clone()
	return nil
}

// RemoveNode deletes a node and every edge incident to it. Targets of the
// node's outgoing edges are reported as changed, since they just lost an
// input binding.
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove node '%s': %w", id, ErrNodeNotFound)
	}
	delete(s.nodes, id)

	affected := make(map[string]struct{})
	for edgeID, e := range s.edges {
		if e.SourceNodeID != id && e.TargetNodeID != id {
			continue
		}
		if e.SourceNodeID == id && e.TargetNodeID != id {
			affected[e.TargetNodeID] = struct{}{}
		}
		s.dropEdgeLocked(edgeID)
	}
	delete(s.byTarget, id)
	s.mu.Unlock()

	s.notifyRemoved(id)
	s.notifyChanged(sortedKeys(affected)...)
	return nil
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (*workflow.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Nodes returns copies of all nodes, ordered by id.
func (s *Store) Nodes() []*workflow.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeCount reports the number of nodes in the graph.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// UpdateNodeParams merges the patch into the node's params. A patch touching
// at least one non-internal key counts as a semantic edit and fires change
// hooks; internal-only patches are bookkeeping and stay silent.
func (s *Store) UpdateNodeParams(id string, patch map[string]any) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update params of '%s': %w", id, ErrNodeNotFound)
	}
	semantic := false
	for k, v := range patch {
		n.Params[k] = v
		if !workflow.IsInternalParam(k) {
			semantic = true
		}
	}
	s.mu.Unlock()
	if semantic {
		s.notifyChanged(id)
	}
	return nil
}

// ApplyParamPatches merges the patch without firing change hooks. Used for
// values written back by a completed run, which must not invalidate the
// result they came from.
func (s *Store) ApplyParamPatches(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("apply patches to '%s': %w", id, ErrNodeNotFound)
	}
	for k, v := range patch {
		n.Params[k] = v
	}
	return nil
}

// RemoveNodeParams deletes the given param keys without firing change hooks.
func (s *Store) RemoveNodeParams(id string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("remove params of '%s': %w", id, ErrNodeNotFound)
	}
	for _, k := range keys {
		delete(n.Params, k)
	}
	return nil
}

// SetNodeLabel renames a node. Cosmetic, no hooks.
func (s *Store) SetNodeLabel(id, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("label node '%s': %w", id, ErrNodeNotFound)
	}
	n.Label = label
	return nil
}

// MoveNode repositions a node on the canvas. Cosmetic, no hooks.
func (s *Store) MoveNode(id string, pos workflow.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("move node '%s': %w", id, ErrNodeNotFound)
	}
	n.Position = pos
	return nil
}

// ResizeNode records a node card's dimensions. Cosmetic, no hooks.
func (s *Store) ResizeNode(id string, size workflow.Size) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("resize node '%s': %w", id, ErrNodeNotFound)
	}
	n.Size = size
	return nil
}

// ReplaceSchema rebinds a node to a model: it swaps the model id and the
// parameter/input definitions, drops params whose keys vanished from the new
// schema (internal keys survive), and disconnects incoming edges whose
// target handle no longer resolves to a declared key. Values for keys present
// in both schemas are preserved. Fires change hooks once for the node.
func (s *Store) ReplaceSchema(id, modelID string, params []workflow.ParamDefinition, inputs []workflow.PortDefinition) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("rebind node '%s': %w", id, ErrNodeNotFound)
	}

	n.ModelID = modelID
	n.ParamDefs = append([]workflow.ParamDefinition(nil), params...)
	n.InputDefs = append([]workflow.PortDefinition(nil), inputs...)

	paramKeys := make(map[string]struct{}, len(params))
	for _, d := range params {
		paramKeys[d.Key] = struct{}{}
	}
	inputKeys := make(map[string]struct{}, len(inputs))
	for _, d := range inputs {
		inputKeys[d.Key] = struct{}{}
	}

	for k := range n.Params {
		if workflow.IsInternalParam(k) {
			continue
		}
		if _, keep := paramKeys[k]; keep {
			continue
		}
		if _, keep := inputKeys[k]; keep {
			continue
		}
		delete(n.Params, k)
	}

	for handle, edgeID := range s.byTarget[id] {
		h, err := workflow.ParseHandle(handle)
		if err != nil {
			s.dropEdgeLocked(edgeID)
			continue
		}
		keys := paramKeys
		if h.Kind == workflow.HandleInput {
			keys = inputKeys
		}
		if _, keep := keys[h.Key]; !keep {
			s.dropEdgeLocked(edgeID)
		}
	}
	s.mu.Unlock()

	s.notifyChanged(id)
	return nil
}

// Connect creates an edge from source to target at the given target handle
// and returns a copy of it.
func (s *Store) Connect(sourceID, targetID, targetHandle string) (*workflow.Edge, error) {
	e := workflow.NewEdge(sourceID, targetID, targetHandle)
	if err := s.AddEdge(e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddEdge inserts a copy of the given edge. Both endpoints must exist, the
// target handle must be well-formed, and self-edges are rejected. An edge
// landing on an already-occupied target handle replaces the existing one.
func (s *Store) AddEdge(e *workflow.Edge) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("add edge: missing edge id")
	}
	if _, err := workflow.ParseHandle(e.TargetHandle); err != nil {
		return fmt.Errorf("add edge '%s': %w", e.ID, err)
	}
	if e.SourceNodeID == e.TargetNodeID {
		return fmt.Errorf("add edge '%s': %w", e.ID, ErrSelfEdge)
	}

	s.mu.Lock()
	if _, ok := s.nodes[e.SourceNodeID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("add edge '%s': source node '%s': %w", e.ID, e.SourceNodeID, ErrNodeNotFound)
	}
	if _, ok := s.nodes[e.TargetNodeID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("add edge '%s': target node '%s': %w", e.ID, e.TargetNodeID, ErrNodeNotFound)
	}
	if prev, occupied := s.byTarget[e.TargetNodeID][e.TargetHandle]; occupied {
		s.dropEdgeLocked(prev)
	}
	c := *e
	s.edges[e.ID] = &c
	if s.byTarget[e.TargetNodeID] == nil {
		s.byTarget[e.TargetNodeID] = make(map[string]string)
	}
	s.byTarget[e.TargetNodeID][e.TargetHandle] = e.ID
	s.mu.Unlock()

	s.notifyChanged(e.TargetNodeID)
	return nil
}

// RemoveEdge disconnects an edge. The target node is reported as changed.
func (s *Store) RemoveEdge(id string) error {
	s.mu.Lock()
	e, ok := s.edges[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove edge '%s': %w", id, ErrEdgeNotFound)
	}
	target := e.TargetNodeID
	s.dropEdgeLocked(id)
	s.mu.Unlock()

	s.notifyChanged(target)
	return nil
}

// dropEdgeLocked removes an edge and its target index entry. Callers hold the
// write lock.
func (s *Store) dropEdgeLocked(id string) {
	e, ok := s.edges[id]
	if !ok {
		return
	}
	delete(s.edges, id)
	if handles := s.byTarget[e.TargetNodeID]; handles != nil {
		if handles[e.TargetHandle] == id {
			delete(handles, e.TargetHandle)
		}
		if len(handles) == 0 {
			delete(s.byTarget, e.TargetNodeID)
		}
	}
}

// Edge returns a copy of the edge with the given id.
func (s *Store) Edge(id string) (*workflow.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok {
		return nil, false
	}
	c := *e
	return &c, true
}

// Edges returns copies of all edges, ordered by id.
func (s *Store) Edges() []*workflow.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgeForHandle returns the edge currently bound to a node's target handle.
func (s *Store) EdgeForHandle(nodeID, handle string) (*workflow.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edgeID, ok := s.byTarget[nodeID][handle]
	if !ok {
		return nil, false
	}
	c := *s.edges[edgeID]
	return &c, true
}

// ConnectedHandles lists the target handles of a node that have an edge bound,
// sorted for determinism.
func (s *Store) ConnectedHandles(nodeID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handles := s.byTarget[nodeID]
	out := make([]string, 0, len(handles))
	for h := range handles {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// IncomingEdges returns copies of the edges targeting a node, ordered by
// target handle.
func (s *Store) IncomingEdges(nodeID string) []*workflow.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Edge
	for _, e := range s.edges {
		if e.TargetNodeID == nodeID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetHandle < out[j].TargetHandle })
	return out
}

// OutgoingEdges returns copies of the edges originating at a node, ordered by
// target node then target handle.
func (s *Store) OutgoingEdges(nodeID string) []*workflow.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Edge
	for _, e := range s.edges {
		if e.SourceNodeID == nodeID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetNodeID != out[j].TargetNodeID {
			return out[i].TargetNodeID < out[j].TargetNodeID
		}
		return out[i].TargetHandle < out[j].TargetHandle
	})
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
