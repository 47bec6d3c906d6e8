package graphstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WaveSpeedAI/wavespeed-desktop-sub002/internal/workflow"
)

// diamond builds a -> b, a -> c, b -> d, c -> d.
func diamond(t *testing.T) *Store {
	t.Helper()
	s := New()
	addNode(t, s, "a", workflow.NodeTextInput)
	addNode(t, s, "b", workflow.NodeModel)
	addNode(t, s, "c", workflow.NodeModel)
	addNode(t, s, "d", workflow.NodeFileOutput)
	for _, link := range [][3]string{
		{"a", "b", "param-prompt"},
		{"a", "c", "param-prompt"},
		{"b", "d", "input-file"},
		{"c", "d", "param-extra"},
	} {
		_, err := s.Connect(link[0], link[1], link[2])
		require.NoError(t, err)
	}
	return s
}

func TestSnapshotIsolation(t *testing.T) {
	s := diamond(t)
	snap := s.Snapshot()

	require.NoError(t, s.UpdateNodeParams("b", map[string]any{"prompt": "later"}))
	require.NoError(t, s.RemoveNode("c"))

	assert.NotContains(t, snap.Nodes["b"].Params, "prompt")
	assert.True(t, snap.Has("c"))
	assert.Len(t, snap.Edges, 4)
}

func TestSnapshotAdjacency(t *testing.T) {
	s := diamond(t)

	// A parallel edge between the same pair must not duplicate adjacency.
	_, err := s.Connect("b", "d", "param-note")
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, []string{"b", "c"}, snap.Outgoing["a"])
	assert.Equal(t, []string{"b", "c"}, snap.Incoming["d"])
	assert.Equal(t, []string{"a"}, snap.Incoming["b"])
	assert.Empty(t, snap.Incoming["a"])
	assert.Empty(t, snap.Outgoing["d"])
}

func TestTopoOrder(t *testing.T) {
	t.Run("respects dependencies", func(t *testing.T) {
		snap := diamond(t).Snapshot()
		order, err := snap.TopoOrder(nil)
		require.NoError(t, err)
		require.Len(t, order, 4)

		pos := make(map[string]int, len(order))
		for i, id := range order {
			pos[id] = i
		}
		assert.Less(t, pos["a"], pos["b"])
		assert.Less(t, pos["a"], pos["c"])
		assert.Less(t, pos["b"], pos["d"])
		assert.Less(t, pos["c"], pos["d"])
	})

	t.Run("deterministic tie break", func(t *testing.T) {
		snap := diamond(t).Snapshot()
		first, err := snap.TopoOrder(nil)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := snap.TopoOrder(nil)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
		assert.Equal(t, []string{"a", "b", "c", "d"}, first)
	})

	t.Run("subset restricts ordering and dependencies", func(t *testing.T) {
		snap := diamond(t).Snapshot()
		subset := map[string]struct{}{"b": {}, "d": {}}
		order, err := snap.TopoOrder(subset)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "d"}, order)
	})

	t.Run("cycle detected", func(t *testing.T) {
		s := New()
		addNode(t, s, "x", workflow.NodeModel)
		addNode(t, s, "y", workflow.NodeModel)
		addNode(t, s, "z", workflow.NodeModel)
		_, err := s.Connect("x", "y", "param-a")
		require.NoError(t, err)
		_, err = s.Connect("y", "z", "param-a")
		require.NoError(t, err)
		_, err = s.Connect("z", "x", "param-a")
		require.NoError(t, err)

		_, err = s.Snapshot().TopoOrder(nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCycle)
		assert.ErrorContains(t, err, "x, y, z")
	})

	t.Run("cycle outside the subset is ignored", func(t *testing.T) {
		s := New()
		addNode(t, s, "x", workflow.NodeModel)
		addNode(t, s, "y", workflow.NodeModel)
		addNode(t, s, "solo", workflow.NodeTextInput)
		_, err := s.Connect("x", "y", "param-a")
		require.NoError(t, err)
		_, err = s.Connect("y", "x", "param-a")
		require.NoError(t, err)

		order, err := s.Snapshot().TopoOrder(map[string]struct{}{"solo": {}})
		require.NoError(t, err)
		assert.Equal(t, []string{"solo"}, order)
	})

	t.Run("empty graph", func(t *testing.T) {
		order, err := New().Snapshot().TopoOrder(nil)
		require.NoError(t, err)
		assert.Empty(t, order)
	})
}

func TestDownstream(t *testing.T) {
	snap := diamond(t).Snapshot()

	t.Run("closure includes the root", func(t *testing.T) {
		got := snap.Downstream("b")
		assert.Equal(t, map[string]struct{}{"b": {}, "d": {}}, got)
	})

	t.Run("root reaches everything", func(t *testing.T) {
		got := snap.Downstream("a")
		assert.Len(t, got, 4)
	})

	t.Run("sink reaches only itself", func(t *testing.T) {
		got := snap.Downstream("d")
		assert.Equal(t, map[string]struct{}{"d": {}}, got)
	})

	t.Run("descendants excludes the root", func(t *testing.T) {
		got := snap.Descendants("b")
		assert.Equal(t, map[string]struct{}{"d": {}}, got)
	})

	t.Run("unknown node yields empty closure", func(t *testing.T) {
		assert.Empty(t, snap.Downstream("dne"))
	})
}
