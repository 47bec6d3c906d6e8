// Package capability defines the boundary between the execution engine and
// the modules that actually perform node work: model invocation, realtime
// transcoding, input pass-through, file output.
//
// A module receives a fully resolved Request, returns an Operation handle
// immediately, streams coarse progress events while it works, and settles
// with a Result or an error. The engine never learns transport details; a
// module never learns graph shape.
package capability

import (
	"context"
	"sync"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// Request carries everything a module needs to run one node. Inputs holds
// the resolved execution values keyed by local param/port key; internal keys
// are already stripped.
type Request struct {
	WorkflowID  string
	NodeID      string
	NodeType    workflow.NodeType
	ModelID     string
	Endpoint    string
	Inputs      map[string]any
	PassThrough string
}

// ProgressEvent is one coarse progress report from a running operation.
type ProgressEvent struct {
	Phase    string
	Fraction float64
}

// Result is what a settled operation produced.
type Result struct {
	// URLs are the produced artifact references, in provider order.
	URLs []string
	// LocalPath is set when the operation wrote an artifact to local storage.
	LocalPath string
	// Raw is the provider's raw response payload.
	Raw string
	// ModelID echoes the model that served the request.
	ModelID string
	// Cost is the charge incurred, in account credits.
	Cost float64
	// DurationMS is the provider-reported run time, 0 when unknown.
	DurationMS int64
	// ParamPatches are values the engine writes back into the node's params
	// after the run, without invalidating the fresh result.
	ParamPatches map[string]any
}

// Operation is a single in-flight node run.
type Operation interface {
	// Phases describes the weighted phases this operation advances through.
	Phases() []progress.Phase
	// Events yields progress reports. The channel stops yielding once Wait
	// returns; it is never closed.
	Events() <-chan ProgressEvent
	// Wait blocks until the operation settles or ctx is done.
	Wait(ctx context.Context) (*Result, error)
}

// Invoker starts operations for one node type.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (Operation, error)
}

// AsyncOp is the Operation implementation modules build on. The module calls
// Emit while working and exactly one of Resolve or Reject when done; extra
// settle calls are ignored.
type AsyncOp struct {
	phases []progress.Phase
	events chan ProgressEvent
	done   chan struct{}

	settleOnce sync.Once
	mu         sync.Mutex
	result     *Result
	err        error
}

// NewAsyncOp creates an operation advancing through the given phases.
func NewAsyncOp(phases ...progress.Phase) *AsyncOp {
	return &AsyncOp{
		phases: phases,
		events: make(chan ProgressEvent, 64),
		done:   make(chan struct{}),
	}
}

// Phases describes the operation's weighted phases.
func (o *AsyncOp) Phases() []progress.Phase {
	return o.phases
}

// Events yields progress reports.
func (o *AsyncOp) Events() <-chan ProgressEvent {
	return o.events
}

// Emit reports a phase fraction. Non-blocking: reports are dropped when the
// consumer lags or the operation has settled.
func (o *AsyncOp) Emit(phase string, fraction float64) {
	select {
	case <-o.done:
		return
	default:
	}
	select {
	case o.events <- ProgressEvent{Phase: phase, Fraction: fraction}:
	default:
	}
}

// Resolve settles the operation successfully.
func (o *AsyncOp) Resolve(res *Result) {
	o.settle(res, nil)
}

// Reject settles the operation with an error.
func (o *AsyncOp) Reject(err error) {
	o.settle(nil, err)
}

func (o *AsyncOp) settle(res *Result, err error) {
	o.settleOnce.Do(func() {
		o.mu.Lock()
		o.result, o.err = res, err
		o.mu.Unlock()
		close(o.done)
	})
}

// Wait blocks until the operation settles or ctx is done.
func (o *AsyncOp) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-o.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ Operation = (*AsyncOp)(nil)
