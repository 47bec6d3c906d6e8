package workflow

import (
	"strings"

	"github.com/google/uuid"
)

// NodeType identifies what kind of work a node performs.
type NodeType string

const (
	// NodeMediaUpload holds user-provided media and exposes it downstream.
	NodeMediaUpload NodeType = "media-upload"
	// NodeTextInput holds user-provided text and exposes it downstream.
	NodeTextInput NodeType = "text-input"
	// NodeModel invokes an external AI model bound via the node's model id.
	NodeModel NodeType = "model"
	// NodeTranscode runs an external media transcoding job.
	NodeTranscode NodeType = "transcode"
	// NodeFileOutput persists an upstream result to local storage.
	NodeFileOutput NodeType = "file-output"
)

// InternalParamPrefix marks params that carry UI or bookkeeping state. Such
// keys never participate in execution input, identity hashing, or edge
// pruning.
const InternalParamPrefix = "__"

// Param keys with the internal prefix that cache per-node history UI state.
// They index into persisted execution records and must be dropped whenever a
// node's history is cleared.
const (
	HiddenRunsParam     = InternalParamPrefix + "hiddenRuns"
	ShowLatestOnlyParam = InternalParamPrefix + "showLatestOnly"
)

// IsInternalParam reports whether a param key is internal/UI-only.
func IsInternalParam(key string) bool {
	return strings.HasPrefix(key, InternalParamPrefix)
}

// Position is a node's placement on the canvas. The execution core carries it
// opaquely for persistence round-trips.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a node card's dimensions, carried opaquely like Position.
type Size struct {
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Node is one unit of graph work. Params is the single source of truth for
// both schema-defined parameter values and input-port values; keys with
// InternalParamPrefix are excluded from execution input and identity hashing.
type Node struct {
	ID        string            `json:"id"`
	Type      NodeType          `json:"nodeType"`
	Label     string            `json:"label,omitempty"`
	ModelID   string            `json:"modelId,omitempty"`
	Params    map[string]any    `json:"params"`
	ParamDefs []ParamDefinition `json:"paramDefinitions,omitempty"`
	InputDefs []PortDefinition  `json:"inputDefinitions,omitempty"`
	Position  Position          `json:"position"`
	Size      Size              `json:"size,omitempty"`
}

// NewNode builds a node of the given type with a fresh id and an empty but
// non-nil params map.
func NewNode(t NodeType) *Node {
	return &Node{
		ID:     uuid.NewString(),
		Type:   t,
		Params: map[string]any{},
	}
}

// Clone returns a deep-enough copy for hand-out: params map and definition
// slices are copied, values are shared.
func (n *Node) Clone() *Node {
	c := *n
	c.Params = make(map[string]any, len(n.Params))
	for k, v := range n.Params {
		c.Params[k] = v
	}
	c.ParamDefs = append([]ParamDefinition(nil), n.ParamDefs...)
	c.InputDefs = append([]PortDefinition(nil), n.InputDefs...)
	return &c
}

// Param returns the stored value for key, or the schema default when the key
// is absent from params.
func (n *Node) Param(key string) (any, bool) {
	if v, ok := n.Params[key]; ok {
		return v, true
	}
	for _, def := range n.ParamDefs {
		if def.Key == key && def.Default != nil {
			return def.Default, true
		}
	}
	return nil, false
}

// ParamDef returns the definition for a param key.
func (n *Node) ParamDef(key string) (ParamDefinition, bool) {
	for _, def := range n.ParamDefs {
		if def.Key == key {
			return def, true
		}
	}
	return ParamDefinition{}, false
}

// InputDef returns the definition for an input port key.
func (n *Node) InputDef(key string) (PortDefinition, bool) {
	for _, def := range n.InputDefs {
		if def.Key == key {
			return def, true
		}
	}
	return PortDefinition{}, false
}

// IsInputType reports whether the node is a pass-through input node: one whose
// output is its own stored value rather than the result of an invocation.
func (t NodeType) IsInputType() bool {
	return t == NodeMediaUpload || t == NodeTextInput
}

// PassThroughKey names the single param an input-type node exposes as its
// output. Resolution from an upstream node may read this key and no other;
// any other param is that node's input, not its output.
func (t NodeType) PassThroughKey() (string, bool) {
	switch t {
	case NodeMediaUpload:
		return "uploadedUrl", true
	case NodeTextInput:
		return "text", true
	default:
		return "", false
	}
}

// PassThroughValue returns the node's pass-through output value, if the node
// type has one and the stored value is a non-empty string.
func (n *Node) PassThroughValue() (string, bool) {
	key, ok := n.Type.PassThroughKey()
	if !ok {
		return "", false
	}
	v, ok := n.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ExecutionParams returns a copy of params with internal keys removed. This is
// the view hashing and capability invocation operate on.
func (n *Node) ExecutionParams() map[string]any {
	out := make(map[string]any, len(n.Params))
	for k, v := range n.Params {
		if IsInternalParam(k) {
			continue
		}
		out[k] = v
	}
	return out
}
