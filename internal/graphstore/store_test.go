package graphstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

func addNode(t *testing.T, s *Store, id string, typ workflow.NodeType) {
	t.Helper()
	n := workflow.NewNode(typ)
	n.ID = id
	require.NoError(t, s.AddNode(n))
}

func TestAddNode(t *testing.T) {
	s := New()
	addNode(t, s, "a", workflow.NodeTextInput)

	t.Run("stored copy is isolated from caller", func(t *testing.T) {
		n := workflow.NewNode(workflow.NodeModel)
		n.ID = "b"
		require.NoError(t, s.AddNode(n))
		n.Params["prompt"] = "mutated after add"

		got, ok := s.Node("b")
		require.True(t, ok)
		assert.NotContains(t, got.Params, "prompt")
	})

	t.Run("handed-out copy is isolated from store", func(t *testing.T) {
		got, ok := s.Node("a")
		require.True(t, ok)
		got.Params["text"] = "mutated after read"

		again, ok := s.Node("a")
		require.True(t, ok)
		assert.NotContains(t, again.Params, "text")
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		n := workflow.NewNode(workflow.NodeModel)
		n.ID = "a"
		err := s.AddNode(n)
		assert.ErrorIs(t, err, ErrDuplicateNode)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		n := workflow.NewNode(workflow.NodeModel)
		n.ID = ""
		assert.Error(t, s.AddNode(n))
	})
}

func TestConnect(t *testing.T) {
	s := New()
	addNode(t, s, "src", workflow.NodeTextInput)
	addNode(t, s, "dst", workflow.NodeModel)

	t.Run("success", func(t *testing.T) {
		e, err := s.Connect("src", "dst", workflow.ParamHandle("prompt"))
		require.NoError(t, err)
		require.NotNil(t, e)

		got, ok := s.EdgeForHandle("dst", "param-prompt")
		require.True(t, ok)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, "src", got.SourceNodeID)
	})

	t.Run("occupied handle replaces the existing edge", func(t *testing.T) {
		addNode(t, s, "src2", workflow.NodeTextInput)
		first, ok := s.EdgeForHandle("dst", "param-prompt")
		require.True(t, ok)

		second, err := s.Connect("src2", "dst", workflow.ParamHandle("prompt"))
		require.NoError(t, err)

		got, ok := s.EdgeForHandle("dst", "param-prompt")
		require.True(t, ok)
		assert.Equal(t, second.ID, got.ID)
		_, stillThere := s.Edge(first.ID)
		assert.False(t, stillThere)
		assert.Len(t, s.IncomingEdges("dst"), 1)
	})

	t.Run("error cases", func(t *testing.T) {
		_, err := s.Connect("dne", "dst", "param-x")
		assert.ErrorIs(t, err, ErrNodeNotFound)

		_, err = s.Connect("src", "dne", "param-x")
		assert.ErrorIs(t, err, ErrNodeNotFound)

		_, err = s.Connect("src", "src", "param-x")
		assert.ErrorIs(t, err, ErrSelfEdge)

		_, err = s.Connect("src", "dst", "not-a-handle")
		assert.ErrorContains(t, err, "malformed target handle")
	})
}

func TestRemoveEdge(t *testing.T) {
	s := New()
	addNode(t, s, "a", workflow.NodeTextInput)
	addNode(t, s, "b", workflow.NodeModel)
	e, err := s.Connect("a", "b", "param-prompt")
	require.NoError(t, err)

	require.NoError(t, s.RemoveEdge(e.ID))
	_, ok := s.EdgeForHandle("b", "param-prompt")
	assert.False(t, ok)
	assert.Empty(t, s.ConnectedHandles("b"))

	assert.ErrorIs(t, s.RemoveEdge(e.ID), ErrEdgeNotFound)
}

func TestRemoveNodeCascades(t *testing.T) {
	s := New()
	addNode(t, s, "a", workflow.NodeTextInput)
	addNode(t, s, "b", workflow.NodeModel)
	addNode(t, s, "c", workflow.NodeFileOutput)
	_, err := s.Connect("a", "b", "param-prompt")
	require.NoError(t, err)
	_, err = s.Connect("b", "c", "input-file")
	require.NoError(t, err)

	var removed []string
	var changed []string
	s.OnNodeRemoved(func(id string) { removed = append(removed, id) })
	s.OnNodeChanged(func(id string) { changed = append(changed, id) })

	require.NoError(t, s.RemoveNode("b"))

	_, ok := s.Node("b")
	assert.False(t, ok)
	assert.Empty(t, s.Edges(), "both incident edges must be gone")
	assert.Equal(t, []string{"b"}, removed)
	assert.Equal(t, []string{"c"}, changed, "only downstream targets lose an input")

	assert.ErrorIs(t, s.RemoveNode("b"), ErrNodeNotFound)
}

func TestUpdateNodeParams(t *testing.T) {
	s := New()
	addNode(t, s, "a", workflow.NodeModel)

	var changed []string
	s.OnNodeChanged(func(id string) { changed = append(changed, id) })

	t.Run("semantic edit fires hooks", func(t *testing.T) {
		require.NoError(t, s.UpdateNodeParams("a", map[string]any{"prompt": "cat"}))
		assert.Equal(t, []string{"a"}, changed)

		n, _ := s.Node("a")
		assert.Equal(t, "cat", n.Params["prompt"])
	})

	t.Run("internal-only edit stays silent", func(t *testing.T) {
		changed = nil
		require.NoError(t, s.UpdateNodeParams("a", map[string]any{workflow.ShowLatestOnlyParam: true}))
		assert.Empty(t, changed)
	})

	t.Run("merge keeps untouched keys", func(t *testing.T) {
		require.NoError(t, s.UpdateNodeParams("a", map[string]any{"seed": 7}))
		n, _ := s.Node("a")
		assert.Equal(t, "cat", n.Params["prompt"])
		assert.Equal(t, 7, n.Params["seed"])
	})

	t.Run("unknown node", func(t *testing.T) {
		assert.ErrorIs(t, s.UpdateNodeParams("dne", map[string]any{"x": 1}), ErrNodeNotFound)
	})
}

func TestApplyParamPatchesIsSilent(t *testing.T) {
	s := New()
	addNode(t, s, "a", workflow.NodeModel)

	var changed []string
	s.OnNodeChanged(func(id string) { changed = append(changed, id) })

	require.NoError(t, s.ApplyParamPatches("a", map[string]any{"seed": 42}))
	assert.Empty(t, changed)

	n, _ := s.Node("a")
	assert.Equal(t, 42, n.Params["seed"])
}

func TestRemoveNodeParams(t *testing.T) {
	s := New()
	addNode(t, s, "a", workflow.NodeModel)
	require.NoError(t, s.ApplyParamPatches("a", map[string]any{
		"prompt":                     "cat",
		workflow.HiddenRunsParam:     []string{"r1"},
		workflow.ShowLatestOnlyParam: true,
	}))

	require.NoError(t, s.RemoveNodeParams("a", workflow.HiddenRunsParam, workflow.ShowLatestOnlyParam))
	n, _ := s.Node("a")
	assert.NotContains(t, n.Params, workflow.HiddenRunsParam)
	assert.NotContains(t, n.Params, workflow.ShowLatestOnlyParam)
	assert.Equal(t, "cat", n.Params["prompt"])
}

func TestReplaceSchema(t *testing.T) {
	s := New()
	addNode(t, s, "up", workflow.NodeTextInput)
	addNode(t, s, "m", workflow.NodeModel)

	oldParams := []workflow.ParamDefinition{
		{Key: "prompt", Type: workflow.TypeText},
		{Key: "style", Type: workflow.TypeSelect},
	}
	oldInputs := []workflow.PortDefinition{{Key: "image", Type: workflow.TypeImage}}
	require.NoError(t, s.ReplaceSchema("m", "model-v1", oldParams, oldInputs))
	require.NoError(t, s.UpdateNodeParams("m", map[string]any{
		"prompt": "cat",
		"style":  "anime",
	}))
	require.NoError(t, s.ApplyParamPatches("m", map[string]any{workflow.ShowLatestOnlyParam: true}))
	_, err := s.Connect("up", "m", workflow.ParamHandle("style"))
	require.NoError(t, err)
	_, err = s.Connect("up", "m", workflow.InputHandle("image"))
	require.NoError(t, err)

	var changed []string
	s.OnNodeChanged(func(id string) { changed = append(changed, id) })

	newParams := []workflow.ParamDefinition{{Key: "prompt", Type: workflow.TypeText}}
	newInputs := []workflow.PortDefinition{{Key: "video", Type: workflow.TypeVideo}}
	require.NoError(t, s.ReplaceSchema("m", "model-v2", newParams, newInputs))

	n, _ := s.Node("m")
	assert.Equal(t, "model-v2", n.ModelID)
	assert.Equal(t, "cat", n.Params["prompt"], "overlapping keys keep their values")
	assert.NotContains(t, n.Params, "style", "vanished keys are dropped")
	assert.Equal(t, true, n.Params[workflow.ShowLatestOnlyParam], "internal keys survive")

	_, ok := s.EdgeForHandle("m", "param-style")
	assert.False(t, ok, "edge onto a vanished param is pruned")
	_, ok = s.EdgeForHandle("m", "input-image")
	assert.False(t, ok, "edge onto a vanished input is pruned")

	assert.Equal(t, []string{"m"}, changed)
}

func TestEdgeQueries(t *testing.T) {
	s := New()
	addNode(t, s, "a", workflow.NodeTextInput)
	addNode(t, s, "b", workflow.NodeModel)
	addNode(t, s, "c", workflow.NodeModel)
	_, err := s.Connect("a", "b", "param-prompt")
	require.NoError(t, err)
	_, err = s.Connect("a", "c", "param-prompt")
	require.NoError(t, err)
	_, err = s.Connect("b", "c", "input-image")
	require.NoError(t, err)

	t.Run("incoming sorted by handle", func(t *testing.T) {
		in := s.IncomingEdges("c")
		require.Len(t, in, 2)
		assert.Equal(t, "input-image", in[0].TargetHandle)
		assert.Equal(t, "param-prompt", in[1].TargetHandle)
	})

	t.Run("outgoing sorted by target", func(t *testing.T) {
		out := s.OutgoingEdges("a")
		require.Len(t, out, 2)
		assert.Equal(t, "b", out[0].TargetNodeID)
		assert.Equal(t, "c", out[1].TargetNodeID)
	})

	t.Run("connected handles", func(t *testing.T) {
		assert.Equal(t, []string{"input-image", "param-prompt"}, s.ConnectedHandles("c"))
		assert.Empty(t, s.ConnectedHandles("a"))
	})
}
