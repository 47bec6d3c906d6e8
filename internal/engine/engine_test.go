package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/graphstore"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/history"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/modelschema"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/nodestate"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/progress"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/session"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/testutil"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

type fakeArtifacts struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeArtifacts) Remove(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ref)
	return nil
}

func (f *fakeArtifacts) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type fixture struct {
	graph    *graphstore.Store
	state    *nodestate.Store
	hub      *progress.Hub
	sessions *session.Tracker
	hist     *history.MemoryStore
	fake     *testutil.FakeInvoker
	arts     *fakeArtifacts
	models   *modelschema.Catalog
	eng      *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		graph:    graphstore.New(),
		state:    nodestate.New(),
		hub:      progress.NewHub(),
		sessions: session.New(),
		hist:     history.NewMemoryStore(),
		fake:     testutil.NewFakeInvoker(),
		arts:     &fakeArtifacts{},
		models:   modelschema.NewCatalog(),
	}
	caps := capability.NewRegistry()
	for _, typ := range []workflow.NodeType{
		workflow.NodeMediaUpload,
		workflow.NodeTextInput,
		workflow.NodeModel,
		workflow.NodeTranscode,
	} {
		caps.RegisterInvoker(typ, f.fake)
	}
	f.eng = New(Config{
		WorkflowID:   "wf-test",
		WorkflowName: "Test Workflow",
		Graph:        f.graph,
		State:        f.state,
		Progress:     f.hub,
		Sessions:     f.sessions,
		History:      f.hist,
		Capabilities: caps,
		Models:       f.models,
		Artifacts:    f.arts,
		Workers:      4,
	})
	return f
}

func (f *fixture) waitStatus(t *testing.T, nodeID string, want workflow.NodeStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.state.Status(nodeID) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("node %q never reached status %q, stuck at %q", nodeID, want, f.state.Status(nodeID))
}

func (f *fixture) records(t *testing.T, nodeID string) []*history.Record {
	t.Helper()
	recs, err := f.hist.ListByNode(context.Background(), nodeID)
	require.NoError(t, err)
	return recs
}

func TestRunNodeSuccess(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	f.fake.ScriptNode("m", testutil.Script{
		Result: &capability.Result{URLs: []string{"https://cdn.test/out.png"}, Cost: 0.25, DurationMS: 1200},
		Events: []capability.ProgressEvent{{Phase: "process", Fraction: 0.5}},
	})

	require.NoError(t, f.eng.RunNode(context.Background(), "m"))

	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("m"))
	res, ok := f.state.Result("m")
	require.True(t, ok)
	assert.Equal(t, []string{"https://cdn.test/out.png"}, res.URLs)
	assert.Equal(t, 0.25, res.Cost)

	recs := f.records(t, "m")
	require.Len(t, recs, 1)
	assert.Equal(t, history.RecordCompleted, recs[0].Status)
	assert.Equal(t, "wf-test", recs[0].WorkflowID)
	assert.NotEmpty(t, recs[0].InputHash)
	assert.NotEmpty(t, recs[0].ParamsHash)
	assert.Equal(t, recs[0].ID, res.RecordID)

	view, ok := f.hub.View("m")
	require.True(t, ok)
	assert.Equal(t, float64(100), view.Percent)
}

func TestRunNodeFailureAndRetry(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	f.fake.ScriptNode("m", testutil.Script{Err: errors.New("model exploded")})

	err := f.eng.RunNode(context.Background(), "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
	assert.Equal(t, workflow.StatusError, f.state.Status("m"))
	stateErr, ok := f.state.Err("m")
	require.True(t, ok)
	assert.Contains(t, stateErr.Error(), "model exploded")

	recs := f.records(t, "m")
	require.Len(t, recs, 1)
	assert.Equal(t, history.RecordError, recs[0].Status)
	require.NotNil(t, recs[0].ResultMetadata)
	assert.Equal(t, "model exploded", recs[0].ResultMetadata.Error)

	// error -> running -> confirmed on retry, with a fresh record.
	f.fake.ScriptNode("m", testutil.Script{})
	require.NoError(t, f.eng.RunNode(context.Background(), "m"))
	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("m"))
	_, hasErr := f.state.Err("m")
	assert.False(t, hasErr)
	assert.Len(t, f.records(t, "m"), 2)
	assert.Equal(t, 2, f.fake.Calls("m"))
}

func TestRunNodeValidationFailure(t *testing.T) {
	f := newFixture(t)
	n := workflow.NewNode(workflow.NodeModel)
	n.ID = "m"
	n.ParamDefs = []workflow.ParamDefinition{
		{Key: "prompt", Type: workflow.TypeText, Required: true},
	}
	require.NoError(t, f.graph.AddNode(n))

	err := f.eng.RunNode(context.Background(), "m")
	require.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Len(t, vErr.Fields, 1)
	assert.Equal(t, "prompt", vErr.Fields[0].Key)

	assert.Equal(t, workflow.StatusError, f.state.Status("m"))
	assert.Equal(t, 0, f.fake.Calls("m"), "capability must not be invoked")
	assert.Empty(t, f.records(t, "m"), "validation failures write no record")
}

func TestRunNodeUnknownNode(t *testing.T) {
	f := newFixture(t)
	err := f.eng.RunNode(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, graphstore.ErrNodeNotFound)
}

func TestRunNodeNoInvoker(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "out", workflow.NodeFileOutput)

	err := f.eng.RunNode(context.Background(), "out")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoInvoker)
	assert.Equal(t, workflow.StatusError, f.state.Status("out"))
}

func TestRunNodeSingleFlight(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	f.fake.Hold("m")

	firstDone := make(chan error, 1)
	go func() { firstDone <- f.eng.RunNode(context.Background(), "m") }()
	f.waitStatus(t, "m", workflow.StatusRunning)

	err := f.eng.RunNode(context.Background(), "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeBusy)

	f.fake.Release("m")
	require.NoError(t, <-firstDone)
	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("m"))
	assert.Equal(t, 1, f.fake.Calls("m"), "exactly one external invocation")
	assert.Len(t, f.records(t, "m"), 1)
}

func TestCancelNode(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	f.fake.Hold("m")

	done := make(chan error, 1)
	go func() { done <- f.eng.RunNode(context.Background(), "m") }()
	f.waitStatus(t, "m", workflow.StatusRunning)

	require.True(t, f.eng.CancelNode("m"))
	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, workflow.StatusIdle, f.state.Status("m"))
	_, hasResult := f.state.Result("m")
	assert.False(t, hasResult)
	assert.Empty(t, f.records(t, "m"), "cancelled runs write no record")
	_, tracked := f.hub.View("m")
	assert.False(t, tracked)

	assert.False(t, f.eng.CancelNode("m"), "no run left to cancel")
}

func TestUnconfirmedCascadeOnParamEdit(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "a", workflow.NodeModel)
	testutil.AddNode(t, f.graph, "b", workflow.NodeModel)
	testutil.AddNode(t, f.graph, "c", workflow.NodeModel)
	testutil.Connect(t, f.graph, "a", "b", "param-x")
	testutil.Connect(t, f.graph, "b", "c", "param-x")

	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "a"))
	require.NoError(t, f.eng.RunNode(ctx, "b"))
	require.NoError(t, f.eng.RunNode(ctx, "c"))
	// Running b invalidates c; the chain head keeps its fresh result.
	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("c"))

	require.NoError(t, f.graph.UpdateNodeParams("a", map[string]any{"seed": 7}))

	assert.Equal(t, workflow.StatusUnconfirmed, f.state.Status("a"))
	assert.Equal(t, workflow.StatusUnconfirmed, f.state.Status("b"))
	assert.Equal(t, workflow.StatusUnconfirmed, f.state.Status("c"))
}

func TestUnconfirmedCascadeOnRerun(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "a", workflow.NodeModel)
	testutil.AddNode(t, f.graph, "b", workflow.NodeModel)
	testutil.Connect(t, f.graph, "a", "b", "param-x")

	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "a"))
	require.NoError(t, f.eng.RunNode(ctx, "b"))

	require.NoError(t, f.eng.RunNode(ctx, "a"))

	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("a"), "the rerun node keeps its fresh result")
	assert.Equal(t, workflow.StatusUnconfirmed, f.state.Status("b"))
}

func TestInternalParamEditDoesNotInvalidate(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "a", workflow.NodeModel)
	testutil.AddNode(t, f.graph, "b", workflow.NodeModel)
	testutil.Connect(t, f.graph, "a", "b", "param-x")

	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "a"))
	require.NoError(t, f.eng.RunNode(ctx, "b"))

	require.NoError(t, f.graph.UpdateNodeParams("a", map[string]any{
		workflow.ShowLatestOnlyParam: true,
	}))

	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("a"))
	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("b"))
}

func TestNodeRemovalClearsRuntimeState(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	require.NoError(t, f.eng.RunNode(context.Background(), "m"))
	require.Equal(t, workflow.StatusConfirmed, f.state.Status("m"))

	require.NoError(t, f.graph.RemoveNode("m"))

	assert.Equal(t, workflow.StatusIdle, f.state.Status("m"))
	_, hasResult := f.state.Result("m")
	assert.False(t, hasResult)
	_, tracked := f.hub.View("m")
	assert.False(t, tracked)
}

func TestWriteBackParamsKeepResultFresh(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	f.fake.ScriptNode("m", testutil.Script{
		Result: &capability.Result{
			URLs:         []string{"https://cdn.test/out.png"},
			ParamPatches: map[string]any{"seed": 12345},
		},
	})

	require.NoError(t, f.eng.RunNode(context.Background(), "m"))

	n, ok := f.graph.Node("m")
	require.True(t, ok)
	assert.Equal(t, 12345, n.Params["seed"])
	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("m"),
		"write-backs must not invalidate the run that produced them")
}

func TestBindModel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.models.Add(&modelschema.Definition{
		ID:       "prov/one",
		Endpoint: "/v1/one",
		Params: []workflow.ParamDefinition{
			{Key: "prompt", Type: workflow.TypeText},
			{Key: "strength", Type: workflow.TypeNumber},
		},
	}))
	require.NoError(t, f.models.Add(&modelschema.Definition{
		ID:       "prov/two",
		Endpoint: "/v1/two",
		Params: []workflow.ParamDefinition{
			{Key: "prompt", Type: workflow.TypeText},
		},
	}))

	ctx := context.Background()
	testutil.AddNode(t, f.graph, "src", workflow.NodeTextInput)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	require.NoError(t, f.eng.BindModel(ctx, "m", "prov/one"))
	require.NoError(t, f.graph.UpdateNodeParams("m", map[string]any{"prompt": "cat", "strength": 0.7}))
	testutil.Connect(t, f.graph, "src", "m", "param-strength")

	require.NoError(t, f.eng.RunNode(ctx, "m"))
	require.Equal(t, workflow.StatusConfirmed, f.state.Status("m"))
	assert.Equal(t, "/v1/one", f.fake.LastRequest("m").Endpoint)

	require.NoError(t, f.eng.BindModel(ctx, "m", "prov/two"))

	n, ok := f.graph.Node("m")
	require.True(t, ok)
	assert.Equal(t, "prov/two", n.ModelID)
	assert.Equal(t, "cat", n.Params["prompt"], "overlapping param value survives")
	assert.NotContains(t, n.Params, "strength", "vanished param is dropped")
	_, connected := f.graph.EdgeForHandle("m", "param-strength")
	assert.False(t, connected, "edge into a vanished param is pruned")

	assert.Equal(t, workflow.StatusIdle, f.state.Status("m"), "rebind resets the node")
	_, hasResult := f.state.Result("m")
	assert.False(t, hasResult)

	err := f.eng.BindModel(ctx, "m", "prov/ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, modelschema.ErrModelNotFound)
}

func TestDeleteRecord(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	f.fake.ScriptNode("m", testutil.Script{
		Result: &capability.Result{
			URLs:      []string{"https://cdn.test/out.png"},
			LocalPath: "local-asset://wf-test/m/out.png",
		},
	})
	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "m"))

	recs := f.records(t, "m")
	require.Len(t, recs, 1)
	recID := recs[0].ID
	require.NoError(t, f.graph.UpdateNodeParams("m", map[string]any{
		workflow.HiddenRunsParam: []string{recID},
	}))

	require.NoError(t, f.eng.DeleteRecord(ctx, recID))

	assert.Empty(t, f.records(t, "m"))
	assert.Equal(t, []string{"local-asset://wf-test/m/out.png"}, f.arts.Removed())
	assert.Equal(t, workflow.StatusIdle, f.state.Status("m"), "deleting the backing record drops the live result")
	_, hasResult := f.state.Result("m")
	assert.False(t, hasResult)

	n, ok := f.graph.Node("m")
	require.True(t, ok)
	assert.Empty(t, history.HiddenIDs(n.Params[workflow.HiddenRunsParam]))

	_, err := f.hist.Record(ctx, recID)
	assert.ErrorIs(t, err, history.ErrRecordNotFound)
}

func TestDeleteRecordKeepsUnrelatedResult(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "m"))
	require.NoError(t, f.eng.RunNode(ctx, "m"))

	recs := f.records(t, "m")
	require.Len(t, recs, 2)
	older := recs[1]

	require.NoError(t, f.eng.DeleteRecord(ctx, older.ID))

	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("m"),
		"deleting an old record leaves the live result alone")
	res, ok := f.state.Result("m")
	require.True(t, ok)
	assert.Equal(t, recs[0].ID, res.RecordID)
}

func TestClearNodeHistory(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	f.fake.ScriptNode("m", testutil.Script{
		Result: &capability.Result{
			URLs:      []string{"https://cdn.test/out.png"},
			LocalPath: "local-asset://wf-test/m/out.png",
		},
	})
	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "m"))
	require.NoError(t, f.eng.RunNode(ctx, "m"))
	require.NoError(t, f.graph.UpdateNodeParams("m", map[string]any{
		workflow.HiddenRunsParam:     []string{"some-id"},
		workflow.ShowLatestOnlyParam: true,
	}))

	require.NoError(t, f.eng.ClearNodeHistory(ctx, "m"))

	assert.Empty(t, f.records(t, "m"))
	assert.Len(t, f.arts.Removed(), 2)
	n, ok := f.graph.Node("m")
	require.True(t, ok)
	assert.NotContains(t, n.Params, workflow.HiddenRunsParam)
	assert.NotContains(t, n.Params, workflow.ShowLatestOnlyParam)
	assert.Equal(t, workflow.StatusIdle, f.state.Status("m"))

	recs, err := f.eng.ListHistory(ctx, "m")
	require.NoError(t, err)
	assert.Empty(t, recs, "no synthetic record after an explicit clear")
}

func TestListHistorySyntheticFallback(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "m"))

	recs, err := f.eng.ListHistory(ctx, "m")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Synthetic)

	// Persistence wiped out from under the node: the in-memory result still
	// backs a transient record.
	require.NoError(t, f.hist.Clear(ctx))
	recs, err = f.eng.ListHistory(ctx, "m")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Synthetic)
	assert.False(t, history.CanClearAll(recs))
}

func TestVisibleHistory(t *testing.T) {
	f := newFixture(t)
	testutil.AddNode(t, f.graph, "m", workflow.NodeModel)
	ctx := context.Background()
	require.NoError(t, f.eng.RunNode(ctx, "m"))
	require.NoError(t, f.eng.RunNode(ctx, "m"))
	require.NoError(t, f.eng.RunNode(ctx, "m"))

	all := f.records(t, "m")
	require.Len(t, all, 3)

	require.NoError(t, f.graph.UpdateNodeParams("m", map[string]any{
		workflow.HiddenRunsParam: []string{all[0].ID},
	}))
	visible, err := f.eng.VisibleHistory(ctx, "m")
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, all[1].ID, visible[0].ID)

	require.NoError(t, f.graph.UpdateNodeParams("m", map[string]any{
		workflow.ShowLatestOnlyParam: true,
	}))
	visible, err = f.eng.VisibleHistory(ctx, "m")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, all[1].ID, visible[0].ID, "latest-only keeps the newest unhidden record")
}

func TestScenarioMediaChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	up := workflow.NewNode(workflow.NodeMediaUpload)
	up.ID = "a"
	up.Params["uploadedUrl"] = "https://files.test/x.png"
	require.NoError(t, f.graph.AddNode(up))

	mid := workflow.NewNode(workflow.NodeModel)
	mid.ID = "b"
	mid.InputDefs = []workflow.PortDefinition{
		{Key: "image", Type: workflow.TypeImage, Required: true},
	}
	require.NoError(t, f.graph.AddNode(mid))

	tail := workflow.NewNode(workflow.NodeModel)
	tail.ID = "c"
	tail.InputDefs = []workflow.PortDefinition{
		{Key: "image", Type: workflow.TypeImage, Required: true},
	}
	require.NoError(t, f.graph.AddNode(tail))

	testutil.Connect(t, f.graph, "a", "b", "input-image")
	testutil.Connect(t, f.graph, "b", "c", "input-image")

	// Running the tail before its upstream has produced anything is a
	// validation error, not an exception.
	err := f.eng.RunNode(ctx, "c")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 0, f.fake.Calls("c"))

	// The upload node settles with its own pass-through value.
	f.fake.ScriptNode("a", testutil.Script{
		Result: &capability.Result{URLs: []string{"https://files.test/x.png"}},
	})
	require.NoError(t, f.eng.RunNode(ctx, "a"))

	require.NoError(t, f.eng.RunNode(ctx, "b"))
	assert.Equal(t, "https://files.test/x.png", f.fake.LastRequest("b").Inputs["image"])

	require.NoError(t, f.eng.RunNode(ctx, "c"))
	bResult, ok := f.state.Result("b")
	require.True(t, ok)
	assert.Equal(t, bResult.PrimaryURL(), f.fake.LastRequest("c").Inputs["image"])
	assert.Equal(t, workflow.StatusConfirmed, f.state.Status("c"), "error -> running -> confirmed")
}
