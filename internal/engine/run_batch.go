package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/session"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// RunAll executes every node in the graph in dependency order and blocks
// until the batch settles. A cycle aborts the whole batch before any node
// starts: the batch's nodes move to error and ErrCycle is returned with no
// session created.
func (e *Engine) RunAll(ctx context.Context) (*session.RunSession, error) {
	snap := e.graph.Snapshot()
	return e.runBatch(ctx, snap, session.ScopeFull, "", nil)
}

// ContinueFrom executes a node and its downstream closure in dependency
// order. Nodes outside the closure keep their status untouched.
func (e *Engine) ContinueFrom(ctx context.Context, nodeID string) (*session.RunSession, error) {
	snap := e.graph.Snapshot()
	if !snap.Has(nodeID) {
		return nil, fmt.Errorf("continue from node '%s': %w", nodeID, graphstore.ErrNodeNotFound)
	}
	return e.runBatch(ctx, snap, session.ScopePartial, nodeID, snap.Downstream(nodeID))
}

func (e *Engine) runBatch(ctx context.Context, snap *graphstore.Snapshot, scope session.Scope, rootID string, subset map[string]struct{}) (*session.RunSession, error) {
	logger := ctxlog.FromContext(ctx)

	members := subset
	if members == nil {
		members = make(map[string]struct{}, len(snap.Nodes))
		for id := range snap.Nodes {
			members[id] = struct{}{}
		}
	}

	order, err := snap.TopoOrder(members)
	if err != nil {
		// Fail fast: nothing has started, so the whole batch is marked in
		// one sweep. In-flight individual runs keep their own settlement.
		for id := range members {
			if e.state.Status(id) == workflow.StatusRunning {
				continue
			}
			e.state.SetErr(id, err)
			e.state.SetStatus(id, workflow.StatusError)
		}
		logger.Error("Batch aborted before start.", "error", err)
		return nil, err
	}
	if len(order) == 0 {
		return nil, ErrEmptyRun
	}

	labels := make(map[string]string, len(order))
	for _, id := range order {
		if n := snap.Nodes[id]; n != nil && n.Label != "" {
			labels[id] = n.Label
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sess := e.sessions.Begin(session.Plan{
		Scope:        scope,
		WorkflowID:   e.workflowID,
		WorkflowName: e.workflowName,
		RootNodeID:   rootID,
		NodeIDs:      order,
		NodeLabels:   labels,
	}, cancel)
	logger = logger.With("session", sess.ID, "scope", string(scope))
	logger.Info("🚀 Starting run session.", "nodes", len(order))

	// Per-node count of unfinished in-batch dependencies. A node is ready
	// once every upstream member has settled, whatever the outcome.
	depCount := make(map[string]*atomic.Int64, len(order))
	for _, id := range order {
		c := &atomic.Int64{}
		for _, src := range snap.Incoming[id] {
			if _, ok := members[src]; ok {
				c.Add(1)
			}
		}
		depCount[id] = c
	}

	ready := make(chan string, len(order))
	for _, id := range order {
		if depCount[id].Load() == 0 {
			ready <- id
		}
	}

	var remaining atomic.Int64
	remaining.Store(int64(len(order)))

	workers := e.workers
	if workers > len(order) {
		workers = len(order)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.batchWorker(runCtx, logger.With("worker", workerID), sess.ID, snap, members, depCount, ready, &remaining)
		}(i)
	}
	wg.Wait()
	cancel()

	final, _ := e.sessions.Snapshot(sess.ID)
	logger.Info("🏁 Run session finished.", "status", string(final.Status), "cost", final.TotalCost)
	return final, nil
}

// batchWorker drains the ready channel until every batch node has settled.
// A settled node unlocks its dependents whether it succeeded or not;
// dependents of a failed node run and surface their own validation errors.
func (e *Engine) batchWorker(ctx context.Context, logger *slog.Logger, sessionID string, snap *graphstore.Snapshot, members map[string]struct{}, depCount map[string]*atomic.Int64, ready chan string, remaining *atomic.Int64) {
	for id := range ready {
		if ctx.Err() == nil {
			e.sessions.NodeStarted(sessionID, id)
			cost, err := e.executeNode(ctx, id)
			switch {
			case err == nil:
				e.sessions.NodeDone(sessionID, id, cost)
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				// Session already cancelled; the tracker ignores reports on
				// finished sessions.
			default:
				e.sessions.NodeFailed(sessionID, id, err)
			}
		} else {
			logger.Debug("Skipping node, session cancelled.", "node", id)
		}

		for _, dep := range snap.Outgoing[id] {
			if _, ok := members[dep]; !ok {
				continue
			}
			if depCount[dep].Add(-1) == 0 {
				ready <- dep
			}
		}
		if remaining.Add(-1) == 0 {
			close(ready)
		}
	}
}
