// Package resolver computes the effective value of every node input at
// execution time: connected handles pull from upstream nodes, everything
// else falls back to the node's own params and schema defaults.
//
// Upstream reads are deliberately narrow. A connected edge yields the source
// node's latest completed result, or the source's declared pass-through
// value for input-type nodes. Arbitrary params of the source are never
// visible downstream.
package resolver

import (
	"fmt"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/nodestate"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// FieldError reports one unusable input of a node.
type FieldError struct {
	Key     string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// Resolver reads graph shape and runtime state to produce execution values.
type Resolver struct {
	graph *graphstore.Store
	state *nodestate.Store
}

// New creates a resolver over the given stores.
func New(graph *graphstore.Store, state *nodestate.Store) *Resolver {
	return &Resolver{graph: graph, state: state}
}

// Value resolves a single key of a node: the connected upstream value when an
// edge is bound to the key's input or param handle, otherwise the local param
// value or schema default. Array keys assemble their slots.
func (r *Resolver) Value(nodeID, key string) (any, error) {
	n, ok := r.graph.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("resolve '%s': %w", nodeID, graphstore.ErrNodeNotFound)
	}
	if def, ok := n.ParamDef(key); ok && def.Array {
		return r.arrayValue(n, key), nil
	}
	return r.scalarValue(n, key), nil
}

// ResolveInputs produces the full execution input map for a node and the
// validation problems found. Keys come from the node's input ports, its
// parameter schema, and any additionally connected handles; internal params
// are excluded. The map is returned even when field errors are present, so
// callers can display partial resolution.
func (r *Resolver) ResolveInputs(nodeID string) (map[string]any, []FieldError, error) {
	n, ok := r.graph.Node(nodeID)
	if !ok {
		return nil, nil, fmt.Errorf("resolve inputs of '%s': %w", nodeID, graphstore.ErrNodeNotFound)
	}

	values := make(map[string]any)
	var fieldErrs []FieldError

	seen := make(map[string]struct{})
	resolveKey := func(key string, arrayDef bool) any {
		if arrayDef {
			return r.arrayValue(n, key)
		}
		return r.scalarValue(n, key)
	}

	for _, def := range n.InputDefs {
		seen[def.Key] = struct{}{}
		v := resolveKey(def.Key, false)
		if !isEmpty(v) {
			values[def.Key] = v
		}
		if msg := validate(def.Required, def.Type, v); msg != "" {
			fieldErrs = append(fieldErrs, FieldError{Key: def.Key, Message: msg})
		}
	}
	for _, def := range n.ParamDefs {
		if _, dup := seen[def.Key]; dup {
			continue
		}
		seen[def.Key] = struct{}{}
		v := resolveKey(def.Key, def.Array)
		if !isEmpty(v) {
			values[def.Key] = v
		}
		if msg := validate(def.Required, def.Type, v); msg != "" {
			fieldErrs = append(fieldErrs, FieldError{Key: def.Key, Message: msg})
		}
	}

	// Connected handles for keys outside the declared schema still resolve,
	// so a graph wired before its model manifest loads keeps working.
	for _, handle := range r.graph.ConnectedHandles(nodeID) {
		h, err := workflow.ParseHandle(handle)
		if err != nil {
			continue
		}
		if _, dup := seen[h.Key]; dup || workflow.IsInternalParam(h.Key) {
			continue
		}
		seen[h.Key] = struct{}{}
		var v any
		if h.Kind == workflow.HandleIndexed {
			v = r.arrayValue(n, h.Key)
		} else {
			v = r.scalarValue(n, h.Key)
		}
		if !isEmpty(v) {
			values[h.Key] = v
		}
	}

	// Local params nobody declared or connected ride along untouched.
	for k, v := range n.ExecutionParams() {
		if _, dup := seen[k]; dup {
			continue
		}
		if !isEmpty(v) {
			values[k] = v
		}
	}

	return values, fieldErrs, nil
}

// scalarValue resolves one non-array key: connected upstream first, local
// value or default second.
func (r *Resolver) scalarValue(n *workflow.Node, key string) any {
	for _, handle := range workflow.HandlesForKey(key) {
		e, ok := r.graph.EdgeForHandle(n.ID, handle)
		if !ok {
			continue
		}
		// A bound handle shadows the local value even when upstream has
		// nothing yet; a stale local copy must not leak into execution.
		return r.upstreamValue(e)
	}
	if v, ok := n.Param(key); ok {
		return v
	}
	return nil
}

// arrayValue assembles an array key: the local value is the base, a
// whole-key edge replaces it, and indexed slot edges overlay by position.
func (r *Resolver) arrayValue(n *workflow.Node, key string) []any {
	var arr []any
	if v, ok := n.Param(key); ok {
		switch base := v.(type) {
		case []any:
			arr = append(arr, base...)
		case []string:
			for _, s := range base {
				arr = append(arr, s)
			}
		}
	}
	for _, handle := range workflow.HandlesForKey(key) {
		if e, ok := r.graph.EdgeForHandle(n.ID, handle); ok {
			arr = nil
			if v := r.upstreamValue(e); v != nil {
				arr = []any{v}
			}
			break
		}
	}
	for _, handle := range r.graph.ConnectedHandles(n.ID) {
		h, err := workflow.ParseHandle(handle)
		if err != nil || h.Kind != workflow.HandleIndexed || h.Key != key {
			continue
		}
		e, ok := r.graph.EdgeForHandle(n.ID, handle)
		if !ok {
			continue
		}
		for len(arr) <= h.Index {
			arr = append(arr, nil)
		}
		if v := r.upstreamValue(e); v != nil {
			arr[h.Index] = v
		}
	}
	return arr
}

// upstreamValue reads what a source node currently offers: its latest
// completed result, else its pass-through value for input-type nodes, else
// nothing.
func (r *Resolver) upstreamValue(e *workflow.Edge) any {
	if res, ok := r.state.Result(e.SourceNodeID); ok {
		if u := res.PrimaryURL(); u != "" {
			return u
		}
	}
	src, ok := r.graph.Node(e.SourceNodeID)
	if !ok {
		return nil
	}
	if v, ok := src.PassThroughValue(); ok {
		return v
	}
	return nil
}

func validate(required bool, typ workflow.DataType, v any) string {
	if isEmpty(v) {
		if required {
			return "required"
		}
		return ""
	}
	switch typ {
	case workflow.TypeFile, workflow.TypeImage, workflow.TypeVideo, workflow.TypeAudio, workflow.TypeURL:
		s, ok := v.(string)
		if ok && !workflow.RecognizedScheme(s) {
			return "not a usable media reference"
		}
	}
	return ""
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		for _, el := range t {
			if !isEmpty(el) {
				return false
			}
		}
		return true
	case []string:
		for _, el := range t {
			if el != "" {
				return false
			}
		}
		return true
	default:
		return false
	}
}
