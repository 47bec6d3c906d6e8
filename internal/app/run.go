package app

import (
	"context"
	"fmt"
	"time"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/session"
)

// Run executes the configured workflow scope and reports the outcome. Batch
// scopes return an error when the session finished in any state other than
// completed, so callers can exit non-zero on failed nodes.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.graph.NodeCount() == 0 {
		a.logger.Warn("No nodes found in workflow, execution not required.")
		return nil
	}

	if est := a.estimateRun(); est > 0 {
		a.logger.Info("💰 Estimated run cost.", "usd", est)
	}

	cfg := a.config
	switch cfg.RunScope {
	case RunScopeNode:
		a.logger.Info("Running single node.", "node_id", cfg.RunNodeID)
		if err := a.engine.RunNode(ctx, cfg.RunNodeID); err != nil {
			return fmt.Errorf("node run failed: %w", err)
		}
		a.reportNode(cfg.RunNodeID)
		return nil

	case RunScopeFrom:
		sess, err := a.engine.ContinueFrom(ctx, cfg.RunNodeID)
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
		return a.reportSession(sess)

	default:
		sess, err := a.engine.RunAll(ctx)
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
		return a.reportSession(sess)
	}
}

// estimateRun prices the nodes the configured scope is about to touch.
func (a *App) estimateRun() float64 {
	switch a.config.RunScope {
	case RunScopeNode:
		return a.estimator.Estimate([]string{a.config.RunNodeID})
	case RunScopeFrom:
		est, err := a.estimator.EstimateFrom(a.config.RunNodeID)
		if err != nil {
			return 0
		}
		return est
	default:
		return a.estimator.Estimate(nil)
	}
}

// reportSession logs the session summary and turns failed runs into an
// error. The engine already logs the session lifecycle markers.
func (a *App) reportSession(sess *session.RunSession) error {
	a.logger.Info("Run session summary.",
		"session_id", sess.ID,
		"workflow", sess.WorkflowName,
		"status", sess.Status,
		"cost_usd", sess.TotalCost,
		"percent", sess.Percent(),
		"duration", sess.FinishedAt.Sub(sess.StartedAt).Round(time.Millisecond),
	)

	for nodeID, outcome := range sess.Outcomes {
		fields := []any{"node_id", nodeID, "outcome", outcome, "cost_usd", sess.NodeCosts[nodeID]}
		if label := sess.NodeLabels[nodeID]; label != "" {
			fields = append(fields, "label", label)
		}
		if res, ok := a.state.Result(nodeID); ok && res.DurationMS > 0 {
			fields = append(fields, "duration_ms", res.DurationMS)
		}
		a.logger.Info("Node outcome.", fields...)
	}
	for nodeID, msg := range sess.NodeErrors {
		a.logger.Error("Node failed during session.", "node_id", nodeID, "error", msg)
	}

	if sess.Status != session.StatusCompleted {
		return fmt.Errorf("run session '%s' finished with status '%s'", sess.ID, sess.Status)
	}
	return nil
}

// reportNode logs the primary result of a node when it produced one.
func (a *App) reportNode(nodeID string) {
	res, ok := a.state.Result(nodeID)
	if !ok {
		return
	}
	if url := res.PrimaryURL(); url != "" {
		a.logger.Info("Node produced a result.", "node_id", nodeID, "url", url)
	}
}
