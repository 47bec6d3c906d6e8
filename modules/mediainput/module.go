// Package mediainput serves the input node types. Running an input node
// settles instantly: the value the node holds is its result, which pins the
// node confirmed and gives downstream runs a stable upstream.
package mediainput

import (
	"context"
	"fmt"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/ctxlog"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// PhaseConfirm is the single instant phase of an input-node run.
const PhaseConfirm = "confirm"

// Module wires the pass-through invoker for both input node types.
type Module struct{}

// NewModule creates the module.
func NewModule() *Module { return &Module{} }

// Name identifies the module in logs.
func (m *Module) Name() string { return "mediainput" }

// Register installs the invoker for media-upload and text-input nodes.
func (m *Module) Register(r *capability.Registry) {
	inv := &invoker{}
	r.RegisterInvoker(workflow.NodeMediaUpload, inv)
	r.RegisterInvoker(workflow.NodeTextInput, inv)
}

type invoker struct{}

// Invoke settles immediately with the node's pass-through value. A node that
// holds no value yet cannot run; picking media or typing text is what arms
// it.
func (i *invoker) Invoke(ctx context.Context, req *capability.Request) (capability.Operation, error) {
	op := capability.NewAsyncOp(progress.Phase{ID: PhaseConfirm, Weight: 1})

	if req.PassThrough == "" {
		op.Reject(fmt.Errorf("node '%s' holds no value to confirm yet", req.NodeID))
		return op, nil
	}

	ctxlog.FromContext(ctx).Debug("Input node confirmed.", "node", req.NodeID)
	op.Emit(PhaseConfirm, 1)
	op.Resolve(&capability.Result{URLs: []string{req.PassThrough}})
	return op, nil
}
