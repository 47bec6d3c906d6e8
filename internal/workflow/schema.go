package workflow

// DataType is the declared type of a parameter or input port.
type DataType string

const (
	TypeText    DataType = "text"
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeSelect  DataType = "select"
	TypeFile    DataType = "file"
	TypeImage   DataType = "image"
	TypeVideo   DataType = "video"
	TypeAudio   DataType = "audio"
	TypeJSON    DataType = "json"
	TypeURL     DataType = "url"
	TypeAny     DataType = "any"
)

// ParamDefinition describes one schema parameter of a node. Definitions are
// immutable once a node's model is bound; re-binding replaces the whole set
// and prunes edges that reference vanished parameter names.
type ParamDefinition struct {
	Key         string   `json:"key"`
	Label       string   `json:"label,omitempty"`
	Type        DataType `json:"dataType"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Connectable bool     `json:"connectable,omitempty"`
	Array       bool     `json:"array,omitempty"`
	Options     []string `json:"options,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
}

// PortDefinition describes one input port of a node. Ports are always
// connectable; an unconnected required port is a validation error at run time.
type PortDefinition struct {
	Key      string   `json:"key"`
	Label    string   `json:"label,omitempty"`
	Type     DataType `json:"dataType"`
	Required bool     `json:"required,omitempty"`
}

// FieldKind tags the widget variant a definition renders as. The execution
// core never renders, but the resolver reuses the tags for type-aware
// classification, so the mapping lives here.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldNumber
	FieldBoolean
	FieldSelect
	FieldFile
	FieldSlider
	FieldJSON
	FieldArray
)

// FieldSpec is the tagged-union view of a parameter definition.
type FieldSpec struct {
	Kind     FieldKind
	Key      string
	Label    string
	DataType DataType
	Default  any
	Options  []string
	Min      float64
	Max      float64
	HasRange bool
}

// FieldSpecFor maps a parameter definition onto its field variant. Pure:
// same definition in, same spec out.
func FieldSpecFor(def ParamDefinition) FieldSpec {
	spec := FieldSpec{Key: def.Key, Label: def.Label, DataType: def.Type, Default: def.Default, Options: def.Options}
	switch {
	case def.Array:
		spec.Kind = FieldArray
	case def.Type == TypeNumber && def.Min != nil && def.Max != nil:
		spec.Kind = FieldSlider
		spec.Min, spec.Max = *def.Min, *def.Max
		spec.HasRange = true
	case def.Type == TypeNumber:
		spec.Kind = FieldNumber
	case def.Type == TypeBoolean:
		spec.Kind = FieldBoolean
	case def.Type == TypeSelect:
		spec.Kind = FieldSelect
	case def.Type == TypeJSON:
		spec.Kind = FieldJSON
	case def.Type == TypeFile, def.Type == TypeImage, def.Type == TypeVideo, def.Type == TypeAudio:
		spec.Kind = FieldFile
	default:
		spec.Kind = FieldText
	}
	return spec
}

// NodeStatus is a node's position in the execution state machine. Exactly one
// value is active per node at a time, held in process state keyed by node id,
// independent of the graph store so it survives node-data edits.
type NodeStatus string

const (
	// StatusIdle means no run is in flight and no live result is held.
	StatusIdle NodeStatus = "idle"
	// StatusRunning means an invocation is in flight.
	StatusRunning NodeStatus = "running"
	// StatusConfirmed means the latest run settled successfully and no
	// upstream input changed since.
	StatusConfirmed NodeStatus = "confirmed"
	// StatusUnconfirmed means a result exists but an upstream input changed
	// after it settled; re-running clears it.
	StatusUnconfirmed NodeStatus = "unconfirmed"
	// StatusError means the latest run settled with a failure.
	StatusError NodeStatus = "error"
)

// Terminal reports whether a status ends a run: the node either holds a
// settled result or a recorded failure.
func (s NodeStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusError
}

// HasResult reports whether the status implies a live settled result.
func (s NodeStatus) HasResult() bool {
	return s == StatusConfirmed || s == StatusUnconfirmed
}
