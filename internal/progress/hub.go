package progress

import "sync"

// View is the renderable progress of one node.
type View struct {
	Percent float64
	ETA     string
	Phase   string
}

// Hub keeps one tracker per running node. Each node's tracker is independent,
// so sync.Map fits the access pattern.
type Hub struct {
	trackers sync.Map // Key: node id, Value: *Tracker
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Start installs a fresh tracker for a node, replacing any previous one.
// The operation's first phase is marked started, so views name the active
// phase before its first event arrives.
func (h *Hub) Start(nodeID string, phases []Phase) *Tracker {
	t := NewTracker(phases...)
	if len(phases) > 0 {
		t.ResetAndStart(phases[0].ID)
	}
	h.trackers.Store(nodeID, t)
	return t
}

// Tracker returns the node's current tracker.
func (h *Hub) Tracker(nodeID string) (*Tracker, bool) {
	v, ok := h.trackers.Load(nodeID)
	if !ok {
		return nil, false
	}
	return v.(*Tracker), true
}

// Report forwards a phase fraction to the node's tracker, if one is active.
func (h *Hub) Report(nodeID, phaseID string, fraction float64) {
	if t, ok := h.Tracker(nodeID); ok {
		t.Report(phaseID, fraction)
	}
}

// Complete clamps the node's tracker to 100 percent, if one is active.
func (h *Hub) Complete(nodeID string) {
	if t, ok := h.Tracker(nodeID); ok {
		t.Complete()
	}
}

// Drop removes the node's tracker. Used when a node's run ends or the node
// leaves the graph.
func (h *Hub) Drop(nodeID string) {
	h.trackers.Delete(nodeID)
}

// View returns the renderable progress of one node.
func (h *Hub) View(nodeID string) (View, bool) {
	t, ok := h.Tracker(nodeID)
	if !ok {
		return View{}, false
	}
	return View{Percent: t.Percent(), ETA: t.ETAString(), Phase: t.Phase()}, true
}

// Snapshot returns the renderable progress of every tracked node.
func (h *Hub) Snapshot() map[string]View {
	out := make(map[string]View)
	h.trackers.Range(func(k, v any) bool {
		t := v.(*Tracker)
		out[k.(string)] = View{Percent: t.Percent(), ETA: t.ETAString(), Phase: t.Phase()}
		return true
	})
	return out
}
