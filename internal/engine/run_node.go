package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/history"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/nodestate"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// RunNode executes one node to settlement. At most one invocation per node
// is in flight at a time; a second request while the first is running
// returns ErrNodeBusy and never touches the in-flight run.
func (e *Engine) RunNode(ctx context.Context, nodeID string) error {
	_, err := e.executeNode(ctx, nodeID)
	return err
}

// executeNode is the shared run path for single and batch execution. It
// returns the settled run's cost so batch callers can account it.
func (e *Engine) executeNode(ctx context.Context, nodeID string) (float64, error) {
	n, ok := e.graph.Node(nodeID)
	if !ok {
		return 0, fmt.Errorf("run node '%s': %w", nodeID, graphstore.ErrNodeNotFound)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if _, loaded := e.running.LoadOrStore(nodeID, &run{cancel: cancel}); loaded {
		cancel()
		return 0, fmt.Errorf("node '%s': %w", nodeID, ErrNodeBusy)
	}
	defer e.running.Delete(nodeID)
	defer cancel()

	logger := ctxlog.FromContext(ctx).With("node", nodeID, "type", string(n.Type))

	values, fieldErrs, err := e.resolver.ResolveInputs(nodeID)
	if err != nil {
		return 0, err
	}
	if len(fieldErrs) > 0 {
		vErr := &ValidationError{NodeID: nodeID, Fields: fieldErrs}
		e.state.SetErr(nodeID, vErr)
		e.state.SetStatus(nodeID, workflow.StatusError)
		logger.Warn("Node inputs failed validation.", "fields", len(fieldErrs))
		return 0, vErr
	}

	inv, ok := e.caps.Invoker(n.Type)
	if !ok {
		err := fmt.Errorf("node '%s' type '%s': %w", nodeID, n.Type, ErrNoInvoker)
		e.state.SetErr(nodeID, err)
		e.state.SetStatus(nodeID, workflow.StatusError)
		return 0, err
	}

	req := &capability.Request{
		WorkflowID: e.workflowID,
		NodeID:     nodeID,
		NodeType:   n.Type,
		ModelID:    n.ModelID,
		Endpoint:   e.endpointFor(n),
		Inputs:     values,
	}
	if pt, ok := n.PassThroughValue(); ok {
		req.PassThrough = pt
	}

	e.state.SetErr(nodeID, nil)
	e.state.SetStatus(nodeID, workflow.StatusRunning)
	logger.Info("▶️ Starting node")
	startedAt := time.Now()

	op, err := inv.Invoke(runCtx, req)
	if err != nil {
		return 0, e.settleFailure(ctx, logger, n, values, startedAt, err)
	}

	e.progress.Start(nodeID, op.Phases())

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case ev := <-op.Events():
				e.progress.Report(nodeID, ev.Phase, ev.Fraction)
			case <-quit:
				return
			}
		}
	}()

	result, err := op.Wait(runCtx)
	close(quit)

	if runCtx.Err() != nil {
		// Cancelled. Local state reverts immediately; a settlement from the
		// already-dispatched operation is discarded and nothing is recorded.
		e.progress.Drop(nodeID)
		e.state.SetStatus(nodeID, workflow.StatusIdle)
		logger.Info("Node run cancelled.")
		return 0, runCtx.Err()
	}
	if err != nil {
		return 0, e.settleFailure(ctx, logger, n, values, startedAt, err)
	}
	return e.settleSuccess(ctx, logger, n, values, startedAt, result), nil
}

// settleFailure records a failed run and moves the node to error.
func (e *Engine) settleFailure(ctx context.Context, logger *slog.Logger, n *workflow.Node, inputs map[string]any, startedAt time.Time, cause error) error {
	e.progress.Drop(n.ID)

	rec := e.newRecord(logger, n, inputs)
	rec.Status = history.RecordError
	rec.DurationMS = time.Since(startedAt).Milliseconds()
	rec.ResultMetadata = &history.ResultMetadata{Error: cause.Error(), ModelID: n.ModelID}
	if err := e.history.Append(ctx, rec); err != nil {
		logger.Warn("Failed to persist failure record.", "error", err)
	}

	e.state.SetErr(n.ID, cause)
	e.state.SetStatus(n.ID, workflow.StatusError)
	logger.Error("Node run failed.", "error", cause)
	return fmt.Errorf("node '%s' failed: %w", n.ID, cause)
}

// settleSuccess records a completed run, publishes the result, confirms the
// node, applies any write-back params, and invalidates downstream results.
func (e *Engine) settleSuccess(ctx context.Context, logger *slog.Logger, n *workflow.Node, inputs map[string]any, startedAt time.Time, res *capability.Result) float64 {
	e.progress.Complete(n.ID)

	durationMS := res.DurationMS
	if durationMS == 0 {
		durationMS = time.Since(startedAt).Milliseconds()
	}
	modelID := res.ModelID
	if modelID == "" {
		modelID = n.ModelID
	}

	rec := e.newRecord(logger, n, inputs)
	rec.Status = history.RecordCompleted
	rec.DurationMS = durationMS
	rec.Cost = res.Cost
	rec.ResultPath = res.LocalPath
	rec.ResultMetadata = &history.ResultMetadata{ResultURLs: res.URLs, Raw: res.Raw, ModelID: modelID}
	if err := e.history.Append(ctx, rec); err != nil {
		logger.Warn("Failed to persist execution record.", "error", err)
	}

	e.state.SetResult(n.ID, &nodestate.Result{
		URLs:        res.URLs,
		LocalPath:   res.LocalPath,
		RecordID:    rec.ID,
		ModelID:     modelID,
		Raw:         res.Raw,
		Cost:        res.Cost,
		DurationMS:  durationMS,
		CompletedAt: time.Now(),
	})
	e.state.SetErr(n.ID, nil)
	e.state.SetStatus(n.ID, workflow.StatusConfirmed)

	if len(res.ParamPatches) > 0 {
		// Write-backs ride the silent patch path so the fresh result is not
		// invalidated by its own run.
		if err := e.graph.ApplyParamPatches(n.ID, res.ParamPatches); err != nil {
			logger.Warn("Failed to write back result params.", "error", err)
		}
	}

	e.invalidateBelow(n.ID)
	logger.Info("✅ Node completed.", "cost", res.Cost, "durationMs", durationMS)
	return res.Cost
}

// newRecord starts a history record carrying the run's identity hashes.
func (e *Engine) newRecord(logger *slog.Logger, n *workflow.Node, inputs map[string]any) *history.Record {
	inputHash, err := workflow.InputsHash(inputs)
	if err != nil {
		logger.Warn("Failed to hash resolved inputs.", "error", err)
	}
	paramsHash, err := workflow.ParamsHash(n.Params)
	if err != nil {
		logger.Warn("Failed to hash node params.", "error", err)
	}
	return &history.Record{
		NodeID:     n.ID,
		WorkflowID: e.workflowID,
		InputHash:  inputHash,
		ParamsHash: paramsHash,
	}
}
