package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/capability"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/testutil"
	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// fakeModule installs one scripted invoker for every node type, so app tests
// run whole workflows without touching the network.
type fakeModule struct {
	inv *testutil.FakeInvoker
}

func (m *fakeModule) Name() string { return "fake" }

func (m *fakeModule) Register(r *capability.Registry) {
	for _, nodeType := range []workflow.NodeType{
		workflow.NodeMediaUpload,
		workflow.NodeTextInput,
		workflow.NodeModel,
		workflow.NodeTranscode,
		workflow.NodeFileOutput,
	} {
		r.RegisterInvoker(nodeType, m.inv)
	}
}

const testManifest = `
model "wavespeed/flux-dev" {
  endpoint     = "/api/v3/wavespeed/flux-dev"
  cost_per_run = 0.0025

  param "prompt" {
    type     = "text"
    required = true
  }
}
`

const testWorkflow = `
workflow {
  id   = "wf-app"
  name = "App Chain"
}

node "prompt" {
  type = "text-input"
  params = {
    text = "a lighthouse at dusk"
  }
}

node "gen" {
  type  = "model"
  model = "wavespeed/flux-dev"
}

edge {
  from   = "prompt"
  to     = "gen"
  handle = "param-prompt"
}
`

// testAppConfig writes the fixture workflow and manifest into a temp dir and
// returns a resolved config pointing at them.
func testAppConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	manifests := filepath.Join(dir, "manifests")
	require.NoError(t, os.Mkdir(manifests, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manifests, "flux.hcl"), []byte(testManifest), 0o644))
	wfPath := filepath.Join(dir, "chain.hcl")
	require.NoError(t, os.WriteFile(wfPath, []byte(testWorkflow), 0o644))

	return &Config{
		WorkflowPath:  wfPath,
		ManifestsPath: manifests,
		AssetsDir:     filepath.Join(dir, "assets"),
		RunScope:      RunScopeAll,
		LogFormat:     "text",
	}
}

func TestAppRunsWholeWorkflow(t *testing.T) {
	fake := testutil.NewFakeInvoker()
	fake.ScriptNode("prompt", testutil.Script{
		Result: &capability.Result{URLs: []string{"a lighthouse at dusk"}},
	})
	testApp, logs := SetupAppTest(t, testAppConfig(t), &fakeModule{inv: fake})

	err := testApp.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "wf-app", testApp.Document().ID)
	assert.Equal(t, workflow.StatusConfirmed, testApp.State().Status("prompt"))
	assert.Equal(t, workflow.StatusConfirmed, testApp.State().Status("gen"))

	req := fake.LastRequest("gen")
	require.NotNil(t, req)
	assert.Equal(t, "a lighthouse at dusk", req.Inputs["prompt"],
		"connected handle carries the upstream result")

	out := logs.String()
	assert.Contains(t, out, "Estimated run cost")
	assert.Contains(t, out, "🚀 Starting run session.")
	assert.Contains(t, out, "🏁 Run session finished.")
	assert.Contains(t, out, "Run session summary.")
}

func TestAppFailedSessionReturnsError(t *testing.T) {
	fake := testutil.NewFakeInvoker()
	fake.ScriptNode("prompt", testutil.Script{
		Result: &capability.Result{URLs: []string{"a lighthouse at dusk"}},
	})
	fake.ScriptNode("gen", testutil.Script{Err: errors.New("provider down")})
	testApp, logs := SetupAppTest(t, testAppConfig(t), &fakeModule{inv: fake})

	err := testApp.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "finished with status 'error'")
	assert.Equal(t, workflow.StatusError, testApp.State().Status("gen"))
	assert.Contains(t, logs.String(), "Node failed during session.")
}

func TestAppRunsSingleNode(t *testing.T) {
	fake := testutil.NewFakeInvoker()
	cfg := testAppConfig(t)
	cfg.RunScope = RunScopeNode
	cfg.RunNodeID = "prompt"
	testApp, logs := SetupAppTest(t, cfg, &fakeModule{inv: fake})

	err := testApp.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("prompt"))
	assert.Equal(t, 0, fake.Calls("gen"), "single node scope leaves the rest of the graph alone")
	assert.Contains(t, logs.String(), "Running single node.")
}

func TestAppRunsFromNode(t *testing.T) {
	fake := testutil.NewFakeInvoker()
	fake.ScriptNode("prompt", testutil.Script{
		Result: &capability.Result{URLs: []string{"a lighthouse at dusk"}},
	})
	cfg := testAppConfig(t)
	cfg.RunScope = RunScopeFrom
	cfg.RunNodeID = "prompt"
	testApp, _ := SetupAppTest(t, cfg, &fakeModule{inv: fake})

	err := testApp.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("prompt"))
	assert.Equal(t, 1, fake.Calls("gen"), "partial scope covers the whole downstream closure")
}

func TestAppEmptyWorkflowSkipsRun(t *testing.T) {
	cfg := testAppConfig(t)
	wfPath := filepath.Join(t.TempDir(), "empty.hcl")
	require.NoError(t, os.WriteFile(wfPath, []byte("workflow {\n  name = \"empty\"\n}\n"), 0o644))
	cfg.WorkflowPath = wfPath
	testApp, logs := SetupAppTest(t, cfg, &fakeModule{inv: testutil.NewFakeInvoker()})

	err := testApp.Run(context.Background())

	require.NoError(t, err)
	assert.Contains(t, logs.String(), "execution not required")
}

func TestNewAppPanicsOnMissingWorkflow(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.WorkflowPath = filepath.Join(t.TempDir(), "ghost.hcl")

	require.Panics(t, func() {
		NewApp(&testutil.SafeBuffer{}, cfg, &fakeModule{inv: testutil.NewFakeInvoker()})
	})
}
