package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
)

// Script configures a FakeInvoker's behavior for one node. The zero value
// settles immediately with a generated URL result.
type Script struct {
	// InvokeErr makes Invoke itself fail before an operation starts.
	InvokeErr error
	// Err rejects the operation after any delay/hold.
	Err error
	// Result resolves the operation; nil means a generated default result.
	Result *capability.Result
	// Events are emitted before settling.
	Events []capability.ProgressEvent
	// Delay postpones settlement.
	Delay time.Duration
}

// FakeInvoker is a scripted capability invoker. It records every invocation
// and settles each operation per the node's script. Nodes can be held open
// and released later to exercise cancellation and single-flight behavior.
type FakeInvoker struct {
	mu      sync.Mutex
	scripts map[string]Script
	holds   map[string]chan struct{}
	calls   map[string]int
	reqs    map[string]*capability.Request
	order   []string
	phases  []progress.Phase
}

// NewFakeInvoker creates a fake with a single full-weight "process" phase.
func NewFakeInvoker() *FakeInvoker {
	return &FakeInvoker{
		scripts: make(map[string]Script),
		holds:   make(map[string]chan struct{}),
		calls:   make(map[string]int),
		reqs:    make(map[string]*capability.Request),
		phases:  []progress.Phase{{ID: "process", Weight: 1}},
	}
}

// SetPhases overrides the phases every operation reports.
func (f *FakeInvoker) SetPhases(phases ...progress.Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = phases
}

// ScriptNode sets a node's scripted behavior.
func (f *FakeInvoker) ScriptNode(nodeID string, sc Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[nodeID] = sc
}

// Hold keeps the node's next operation open until Release is called.
func (f *FakeInvoker) Hold(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds[nodeID] = make(chan struct{})
}

// Release settles a held node's operation.
func (f *FakeInvoker) Release(nodeID string) {
	f.mu.Lock()
	ch := f.holds[nodeID]
	delete(f.holds, nodeID)
	f.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Calls reports how many times a node was invoked.
func (f *FakeInvoker) Calls(nodeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[nodeID]
}

// Order returns node ids in invocation order.
func (f *FakeInvoker) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// LastRequest returns the most recent request a node was invoked with.
func (f *FakeInvoker) LastRequest(nodeID string) *capability.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[nodeID]
}

// Invoke implements capability.Invoker.
func (f *FakeInvoker) Invoke(ctx context.Context, req *capability.Request) (capability.Operation, error) {
	f.mu.Lock()
	sc := f.scripts[req.NodeID]
	hold := f.holds[req.NodeID]
	f.calls[req.NodeID]++
	f.reqs[req.NodeID] = req
	f.order = append(f.order, req.NodeID)
	phases := f.phases
	f.mu.Unlock()

	if sc.InvokeErr != nil {
		return nil, sc.InvokeErr
	}

	op := capability.NewAsyncOp(phases...)
	go func() {
		for _, ev := range sc.Events {
			op.Emit(ev.Phase, ev.Fraction)
		}
		if sc.Delay > 0 {
			select {
			case <-time.After(sc.Delay):
			case <-ctx.Done():
				return
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		if sc.Err != nil {
			op.Reject(sc.Err)
			return
		}
		res := sc.Result
		if res == nil {
			res = &capability.Result{URLs: []string{"https://cdn.invalid/" + req.NodeID + ".png"}}
		}
		op.Resolve(res)
	}()
	return op, nil
}

var _ capability.Invoker = (*FakeInvoker)(nil)
