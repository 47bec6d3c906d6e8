package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/history"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// ListHistory returns a node's records newest-first. When the store has no
// rows but the node holds an in-memory result, a single synthetic record is
// returned in its place so the listing is never empty right after a run.
func (e *Engine) ListHistory(ctx context.Context, nodeID string) ([]*history.Record, error) {
	res, _ := e.state.Result(nodeID)
	return history.ListWithFallback(ctx, e.history, nodeID, e.workflowID, res)
}

// VisibleHistory is ListHistory with the node's hidden-run and latest-only
// display params applied.
func (e *Engine) VisibleHistory(ctx context.Context, nodeID string) ([]*history.Record, error) {
	n, ok := e.graph.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("history for node '%s': %w", nodeID, graphstore.ErrNodeNotFound)
	}
	recs, err := e.ListHistory(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	hidden := history.HiddenIDs(n.Params[workflow.HiddenRunsParam])
	latestOnly, _ := n.Params[workflow.ShowLatestOnlyParam].(bool)
	return history.VisibleRecords(recs, hidden, latestOnly), nil
}

// DeleteRecord removes one persisted record plus the artifact it referenced.
// If the record backs the node's live result, the result is dropped and the
// node returns to idle; any hidden-run entry pointing at the record is
// removed from the node's params.
func (e *Engine) DeleteRecord(ctx context.Context, recordID string) error {
	rec, err := e.history.Delete(ctx, recordID)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx).With("record", recordID, "node", rec.NodeID)

	e.removeArtifact(ctx, logger, rec)

	if res, ok := e.state.Result(rec.NodeID); ok && res.RecordID == recordID {
		e.state.SetResult(rec.NodeID, nil)
		e.state.SetErr(rec.NodeID, nil)
		e.state.SetStatus(rec.NodeID, workflow.StatusIdle)
		e.progress.Drop(rec.NodeID)
	}

	e.unhideRecord(rec.NodeID, recordID)
	logger.Info("Execution record deleted.")
	return nil
}

// ClearNodeHistory removes every record for a node, the artifacts they
// referenced, the display params indexing into them, and the node's live
// result. Tolerates the node itself having already been removed.
func (e *Engine) ClearNodeHistory(ctx context.Context, nodeID string) error {
	recs, err := e.history.DeleteByNode(ctx, nodeID)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx).With("node", nodeID)
	for _, rec := range recs {
		e.removeArtifact(ctx, logger, rec)
	}

	if err := e.graph.RemoveNodeParams(nodeID, workflow.HiddenRunsParam, workflow.ShowLatestOnlyParam); err != nil && !errors.Is(err, graphstore.ErrNodeNotFound) {
		return err
	}
	e.state.Clear(nodeID)
	e.progress.Drop(nodeID)
	logger.Info("Node history cleared.", "records", len(recs))
	return nil
}

func (e *Engine) removeArtifact(ctx context.Context, logger *slog.Logger, rec *history.Record) {
	if e.artifacts == nil || rec.ResultPath == "" {
		return
	}
	if err := e.artifacts.Remove(ctx, rec.ResultPath); err != nil {
		logger.Warn("Failed to remove stored artifact.", "path", rec.ResultPath, "error", err)
	}
}

// unhideRecord drops a deleted record's id from the node's hidden-runs param.
func (e *Engine) unhideRecord(nodeID, recordID string) {
	n, ok := e.graph.Node(nodeID)
	if !ok {
		return
	}
	hidden := history.HiddenIDs(n.Params[workflow.HiddenRunsParam])
	kept := make([]string, 0, len(hidden))
	for _, id := range hidden {
		if id != recordID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(hidden) {
		return
	}
	_ = e.graph.ApplyParamPatches(nodeID, map[string]any{workflow.HiddenRunsParam: kept})
}
