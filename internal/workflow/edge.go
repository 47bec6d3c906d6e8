package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Edge is a directed binding from a source node's output to a target node's
// input or parameter handle. At most one edge may target a given
// (TargetNodeID, TargetHandle) pair; the graph store enforces this.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetNodeID string `json:"targetNodeId"`
	TargetHandle string `json:"targetHandle"`
}

// NewEdge builds an edge with a fresh id.
func NewEdge(source, target, targetHandle string) *Edge {
	return &Edge{
		ID:           uuid.NewString(),
		SourceNodeID: source,
		TargetNodeID: target,
		TargetHandle: targetHandle,
	}
}

// HandleKind distinguishes the namespaces a target handle can address.
type HandleKind int

const (
	// HandleInput addresses an input port: "input-<portKey>".
	HandleInput HandleKind = iota
	// HandleParam addresses a schema parameter: "param-<paramKey>".
	HandleParam
	// HandleIndexed addresses one slot of an array parameter: "<paramKey>[i]".
	HandleIndexed
)

const (
	inputHandlePrefix = "input-"
	paramHandlePrefix = "param-"
)

// Handle is the decoded form of a target handle string.
type Handle struct {
	Kind HandleKind
	Key  string
	// Index is the array slot for HandleIndexed handles, -1 otherwise.
	Index int
}

// InputHandle encodes the handle id for an input port key.
func InputHandle(key string) string { return inputHandlePrefix + key }

// ParamHandle encodes the handle id for a parameter key.
func ParamHandle(key string) string { return paramHandlePrefix + key }

// IndexedHandle encodes the handle id for one slot of an array parameter.
func IndexedHandle(key string, index int) string {
	return fmt.Sprintf("%s[%d]", key, index)
}

// String re-encodes a handle to its canonical id.
func (h Handle) String() string {
	switch h.Kind {
	case HandleInput:
		return InputHandle(h.Key)
	case HandleIndexed:
		return IndexedHandle(h.Key, h.Index)
	default:
		return ParamHandle(h.Key)
	}
}

// ParseHandle decodes a target handle id. The three accepted forms are
// "input-<key>", "param-<key>", and "<key>[i]" with a non-negative index.
func ParseHandle(s string) (Handle, error) {
	if rest, ok := strings.CutPrefix(s, inputHandlePrefix); ok && rest != "" {
		return Handle{Kind: HandleInput, Key: rest, Index: -1}, nil
	}
	if rest, ok := strings.CutPrefix(s, paramHandlePrefix); ok && rest != "" {
		return Handle{Kind: HandleParam, Key: rest, Index: -1}, nil
	}
	if strings.HasSuffix(s, "]") {
		open := strings.LastIndex(s, "[")
		if open > 0 {
			idx, err := strconv.Atoi(s[open+1 : len(s)-1])
			if err == nil && idx >= 0 {
				return Handle{Kind: HandleIndexed, Key: s[:open], Index: idx}, nil
			}
		}
	}
	return Handle{}, fmt.Errorf("malformed target handle %q", s)
}

// HandlesForKey lists every handle id that can bind the given local key:
// the input-port form, the param form, and, for array params, any indexed
// slot. Indexed handles are open-ended, so this returns the two closed forms;
// callers matching indexed handles compare the decoded Key instead.
func HandlesForKey(key string) [2]string {
	return [2]string{InputHandle(key), ParamHandle(key)}
}
