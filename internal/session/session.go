// Package session tracks batch runs: which nodes a run planned, how far it
// has gotten, what it cost, and how it ended.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scope says how the run's node set was chosen.
type Scope string

const (
	// ScopeFull runs every node in the graph.
	ScopeFull Scope = "full"
	// ScopePartial runs one node and its downstream closure.
	ScopePartial Scope = "partial"
)

// Status is the lifecycle state of a run session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Outcome is the per-node result within a session.
type Outcome string

const (
	// OutcomePending marks a planned node that has not started yet.
	OutcomePending Outcome = "pending"
	OutcomeRunning Outcome = "running"
	OutcomeDone    Outcome = "done"
	OutcomeError   Outcome = "error"
)

func (o Outcome) finished() bool {
	return o == OutcomeDone || o == OutcomeError
}

// RunSession is the aggregate view of one batch run.
type RunSession struct {
	ID           string
	WorkflowID   string
	WorkflowName string
	Scope        Scope
	RootNodeID   string
	Status       Status
	Outcomes     map[string]Outcome
	NodeErrors   map[string]string
	NodeLabels   map[string]string
	NodeCosts    map[string]float64
	TotalCost    float64
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Percent is the coarse aggregate progress: finished nodes over planned
// nodes, scaled to 100.
func (s *RunSession) Percent() float64 {
	if len(s.Outcomes) == 0 {
		return 0
	}
	finished := 0
	for _, o := range s.Outcomes {
		if o.finished() {
			finished++
		}
	}
	return float64(finished) / float64(len(s.Outcomes)) * 100
}

// Finished reports whether the session reached a terminal status.
func (s *RunSession) Finished() bool {
	return s.Status != StatusRunning
}

func (s *RunSession) clone() *RunSession {
	c := *s
	c.Outcomes = make(map[string]Outcome, len(s.Outcomes))
	for k, v := range s.Outcomes {
		c.Outcomes[k] = v
	}
	c.NodeErrors = make(map[string]string, len(s.NodeErrors))
	for k, v := range s.NodeErrors {
		c.NodeErrors[k] = v
	}
	c.NodeLabels = make(map[string]string, len(s.NodeLabels))
	for k, v := range s.NodeLabels {
		c.NodeLabels[k] = v
	}
	c.NodeCosts = make(map[string]float64, len(s.NodeCosts))
	for k, v := range s.NodeCosts {
		c.NodeCosts[k] = v
	}
	return &c
}

type runState struct {
	session RunSession
	cancel  context.CancelFunc
}

// Tracker holds all sessions of the current process. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*runState
	now      func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		sessions: make(map[string]*runState),
		now:      time.Now,
	}
}

// Plan describes the batch a session will track.
type Plan struct {
	Scope        Scope
	WorkflowID   string
	WorkflowName string
	RootNodeID   string
	NodeIDs      []string
	// NodeLabels carries display names for planned nodes, keyed by node id.
	NodeLabels map[string]string
}

// Begin opens a session over the planned node set. The cancel function stops
// the run's in-flight work when the session is cancelled.
func (t *Tracker) Begin(plan Plan, cancel context.CancelFunc) *RunSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	outcomes := make(map[string]Outcome, len(plan.NodeIDs))
	for _, id := range plan.NodeIDs {
		outcomes[id] = OutcomePending
	}
	labels := make(map[string]string, len(plan.NodeLabels))
	for k, v := range plan.NodeLabels {
		labels[k] = v
	}
	st := &runState{
		session: RunSession{
			ID:           uuid.NewString(),
			WorkflowID:   plan.WorkflowID,
			WorkflowName: plan.WorkflowName,
			Scope:        plan.Scope,
			RootNodeID:   plan.RootNodeID,
			Status:       StatusRunning,
			Outcomes:     outcomes,
			NodeErrors:   make(map[string]string),
			NodeLabels:   labels,
			NodeCosts:    make(map[string]float64),
			StartedAt:    t.now(),
		},
		cancel: cancel,
	}
	t.sessions[st.session.ID] = st
	return st.session.clone()
}

// NodeStarted marks a planned node as running.
func (t *Tracker) NodeStarted(sessionID, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[sessionID]
	if !ok || st.session.Finished() {
		return
	}
	if _, planned := st.session.Outcomes[nodeID]; planned {
		st.session.Outcomes[nodeID] = OutcomeRunning
	}
}

// NodeDone marks a planned node as finished successfully and records its
// cost, per node and in the session total. Settles the session when it was
// the last node.
func (t *Tracker) NodeDone(sessionID, nodeID string, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[sessionID]
	if !ok || st.session.Finished() {
		return
	}
	if _, planned := st.session.Outcomes[nodeID]; !planned {
		return
	}
	st.session.Outcomes[nodeID] = OutcomeDone
	st.session.NodeCosts[nodeID] = cost
	st.session.TotalCost += cost
	t.settleLocked(st)
}

// NodeFailed marks a planned node as finished with an error. Settles the
// session when it was the last node.
func (t *Tracker) NodeFailed(sessionID, nodeID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[sessionID]
	if !ok || st.session.Finished() {
		return
	}
	if _, planned := st.session.Outcomes[nodeID]; !planned {
		return
	}
	st.session.Outcomes[nodeID] = OutcomeError
	if err != nil {
		st.session.NodeErrors[nodeID] = err.Error()
	}
	t.settleLocked(st)
}

func (t *Tracker) settleLocked(st *runState) {
	hadError := false
	for _, o := range st.session.Outcomes {
		if !o.finished() {
			return
		}
		if o == OutcomeError {
			hadError = true
		}
	}
	if hadError {
		st.session.Status = StatusError
	} else {
		st.session.Status = StatusCompleted
	}
	st.session.FinishedAt = t.now()
}

// Cancel stops a running session: its cancel function fires and the session
// settles as cancelled. Reports whether a running session was found.
func (t *Tracker) Cancel(sessionID string) bool {
	t.mu.Lock()
	st, ok := t.sessions[sessionID]
	if !ok || st.session.Finished() {
		t.mu.Unlock()
		return false
	}
	st.session.Status = StatusCancelled
	st.session.FinishedAt = t.now()
	cancel := st.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Snapshot returns a copy of one session.
func (t *Tracker) Snapshot(sessionID string) (*RunSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return st.session.clone(), true
}

// Active returns copies of all sessions still running, oldest first.
func (t *Tracker) Active() []*RunSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*RunSession
	for _, st := range t.sessions {
		if !st.session.Finished() {
			out = append(out, st.session.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
