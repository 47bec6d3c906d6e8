package graphstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// ErrCycle is returned when a traversal requires an acyclic graph and the
// graph has a dependency cycle.
var ErrCycle = errors.New("cycle detected")

// Snapshot is an immutable copy of the graph taken under a single lock
// acquisition. Traversal and ordering decisions work on a snapshot so they
// see one consistent shape even while the live graph keeps mutating.
type Snapshot struct {
	Nodes map[string]*workflow.Node
	Edges []*workflow.Edge
	// Incoming maps a node id to the unique, sorted ids of its upstream nodes.
	Incoming map[string][]string
	// Outgoing maps a node id to the unique, sorted ids of its downstream nodes.
	Outgoing map[string][]string
}

// Snapshot copies the current graph. Nodes and edges are cloned; the result
// is safe to use without further locking.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Nodes:    make(map[string]*workflow.Node, len(s.nodes)),
		Edges:    make([]*workflow.Edge, 0, len(s.edges)),
		Incoming: make(map[string][]string),
		Outgoing: make(map[string][]string),
	}
	for id, n := range s.nodes {
		snap.Nodes[id] = n.Clone()
	}

	in := make(map[string]map[string]struct{})
	out := make(map[string]map[string]struct{})
	for _, e := range s.edges {
		c := *e
		snap.Edges = append(snap.Edges, &c)
		if in[e.TargetNodeID] == nil {
			in[e.TargetNodeID] = make(map[string]struct{})
		}
		in[e.TargetNodeID][e.SourceNodeID] = struct{}{}
		if out[e.SourceNodeID] == nil {
			out[e.SourceNodeID] = make(map[string]struct{})
		}
		out[e.SourceNodeID][e.TargetNodeID] = struct{}{}
	}
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	for id, set := range in {
		snap.Incoming[id] = sortedKeys(set)
	}
	for id, set := range out {
		snap.Outgoing[id] = sortedKeys(set)
	}
	return snap
}

// Has reports whether the snapshot contains a node.
func (snap *Snapshot) Has(id string) bool {
	_, ok := snap.Nodes[id]
	return ok
}

// TopoOrder returns the node ids of the subset in a valid topological order:
// every node appears after all of its upstream dependencies within the
// subset. A nil subset orders the whole graph. Ties break by node id, so the
// order is deterministic. Returns ErrCycle when the subset contains a
// dependency cycle.
func (snap *Snapshot) TopoOrder(subset map[string]struct{}) ([]string, error) {
	inSubset := func(id string) bool {
		if subset == nil {
			return snap.Has(id)
		}
		_, ok := subset[id]
		return ok
	}

	indegree := make(map[string]int)
	for id := range snap.Nodes {
		if !inSubset(id) {
			continue
		}
		indegree[id] = 0
	}
	for id := range indegree {
		for _, dep := range snap.Incoming[id] {
			if inSubset(dep) {
				indegree[id]++
			}
		}
	}

	ready := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		unlocked := false
		for _, next := range snap.Outgoing[id] {
			if !inSubset(next) {
				continue
			}
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				unlocked = true
			}
		}
		if unlocked {
			sort.Strings(ready)
		}
	}

	if len(order) != len(indegree) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w involving nodes: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

// Downstream returns the forward-reachable closure of a node, including the
// node itself. Cycles are tolerated; each node is visited once.
func (snap *Snapshot) Downstream(rootID string) map[string]struct{} {
	closure := make(map[string]struct{})
	if !snap.Has(rootID) {
		return closure
	}
	queue := []string{rootID}
	closure[rootID] = struct{}{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range snap.Outgoing[id] {
			if _, seen := closure[next]; seen {
				continue
			}
			closure[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return closure
}

// Descendants is Downstream without the root itself.
func (snap *Snapshot) Descendants(rootID string) map[string]struct{} {
	closure := snap.Downstream(rootID)
	delete(closure, rootID)
	return closure
}
