// Package nodestate holds per-node runtime state: execution status, the
// latest completed result, and the latest failure.
//
// # Concurrency Model
//
// Like the graph store, this state is read and written from many goroutines
// at once, but each node's state is independent. sync.Map gives fine-grained
// access without a global lock: the executor writes statuses while resolvers
// read results of other nodes concurrently.
//
// Runtime state is process-local and ephemeral. It is never persisted;
// durable outcomes live in the history store.
package nodestate

import (
	"sync"
	"time"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Result is the output of a node's most recent completed run.
type Result struct {
	// URLs are the produced artifact references, in provider order.
	URLs []string
	// LocalPath is set when the node persisted an artifact to local storage.
	LocalPath string
	// RecordID links back to the history record written for this run.
	RecordID string
	// ModelID is the model the run executed against, empty for non-model nodes.
	ModelID string
	// Raw is the provider's raw response payload, kept for history display.
	Raw string
	// Cost is the charge incurred by the run, in account credits.
	Cost float64
	// DurationMS is the wall-clock run time in milliseconds.
	DurationMS int64
	// CompletedAt is when the run settled.
	CompletedAt time.Time
}

// PrimaryURL returns the first produced URL, or the local path when the run
// only produced a local artifact.
func (r *Result) PrimaryURL() string {
	if r == nil {
		return ""
	}
	if len(r.URLs) > 0 {
		return r.URLs[0]
	}
	return r.LocalPath
}

// Store keeps status, result, and error per node id.
type Store struct {
	statuses sync.Map // Key: node id, Value: workflow.NodeStatus
	results  sync.Map // Key: node id, Value: Result
	errors   sync.Map // Key: node id, Value: error
}

// New creates an empty state store.
func New() *Store {
	return &Store{}
}

// Status returns a node's current status. Nodes with no recorded status are
// idle.
func (s *Store) Status(id string) workflow.NodeStatus {
	v, ok := s.statuses.Load(id)
	if !ok {
		return workflow.StatusIdle
	}
	return v.(workflow.NodeStatus)
}

// SetStatus records a node's status.
func (s *Store) SetStatus(id string, status workflow.NodeStatus) {
	s.statuses.Store(id, status)
}

// Result returns a copy of a node's latest completed result.
func (s *Store) Result(id string) (*Result, bool) {
	v, ok := s.results.Load(id)
	if !ok {
		return nil, false
	}
	r := v.(Result)
	return &r, true
}

// SetResult records a node's completed result. A nil result clears it.
func (s *Store) SetResult(id string, r *Result) {
	if r == nil {
		s.results.Delete(id)
		return
	}
	s.results.Store(id, *r)
}

// Err returns a node's latest failure.
func (s *Store) Err(id string) (error, bool) {
	v, ok := s.errors.Load(id)
	if !ok {
		return nil, false
	}
	return v.(error), true
}

// SetErr records a node's failure. A nil error clears it.
func (s *Store) SetErr(id string, err error) {
	if err == nil {
		s.errors.Delete(id)
		return
	}
	s.errors.Store(id, err)
}

// Clear drops all runtime state for a node. Used when a node is removed or
// rebound to a different model.
func (s *Store) Clear(id string) {
	s.statuses.Delete(id)
	s.results.Delete(id)
	s.errors.Delete(id)
}

// StatusSnapshot returns the statuses of all nodes that have one recorded.
func (s *Store) StatusSnapshot() map[string]workflow.NodeStatus {
	out := make(map[string]workflow.NodeStatus)
	s.statuses.Range(func(k, v any) bool {
		out[k.(string)] = v.(workflow.NodeStatus)
		return true
	})
	return out
}
